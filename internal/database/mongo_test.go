package database

import (
	"errors"
	"fmt"
	"testing"

	"go.mongodb.org/mongo-driver/mongo"
)

func duplicateKey(index string) error {
	return mongo.WriteException{WriteErrors: []mongo.WriteError{{
		Code:    11000,
		Message: fmt.Sprintf("E11000 duplicate key error collection: app.invitations index: %s dup key: { token: \"abc\" }", index),
	}}}
}

func TestDuplicateOnNamesIndex(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		index string
		want  bool
	}{
		{"token collision", duplicateKey(indexInvitationToken), indexInvitationToken, true},
		{"active email", duplicateKey(indexInvitationActive), indexInvitationToken, false},
		{"active email by name", duplicateKey(indexInvitationActive), indexInvitationActive, true},
		{"wrapped", fmt.Errorf("insert: %w", duplicateKey(indexInvitationToken)), indexInvitationToken, true},
		{"other error", errors.New("timeout"), indexInvitationToken, false},
		{"nil", nil, indexInvitationToken, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := duplicateOn(tt.err, tt.index); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
