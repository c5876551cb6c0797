package entity

import "testing"

func TestTopicForModule(t *testing.T) {
	tests := map[string]string{
		"invitation":           TopicInvitation,
		"http.handlers.guest":  TopicInvitation,
		"http.handlers.budget": TopicApproval,
		"approval":             TopicApproval,
		"stripe":               TopicPayment,
		"http.handlers.stripe": TopicPayment,
		"sweeper":              TopicSystem,
		"invitationx":          TopicSystem,
		"":                     TopicSystem,
	}
	for mod, want := range tests {
		if got := TopicForModule(mod); got != want {
			t.Fatalf("TopicForModule(%q): expected %s, got %s", mod, want, got)
		}
	}
}
