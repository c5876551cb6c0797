package entity

import "strings"

// Alert topics group operator messages in the Telegram digest.
const (
	TopicInvitation = "invitation"
	TopicApproval   = "approval"
	TopicPayment    = "payment"
	TopicSystem     = "system"
)

var moduleTopics = []struct {
	prefix string
	topic  string
}{
	{"invitation", TopicInvitation},
	{"http.handlers.invitation", TopicInvitation},
	{"http.handlers.guest", TopicInvitation},
	{"approval", TopicApproval},
	{"http.handlers.approval", TopicApproval},
	{"http.handlers.budget", TopicApproval},
	{"stripe", TopicPayment},
	{"ledger", TopicPayment},
	{"http.handlers.stripe", TopicPayment},
}

// TopicForModule maps a logger module name to its alert topic.
func TopicForModule(mod string) string {
	for _, mt := range moduleTopics {
		if mod == mt.prefix || strings.HasPrefix(mod, mt.prefix+".") {
			return mt.topic
		}
	}
	return TopicSystem
}
