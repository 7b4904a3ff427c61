package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-messaging-bridge/internal/relay"
)

func TestVendorNotificationTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
	}{
		{
			name:    "Happy Path - Valid notification",
			payload: `{"accountId":"acct1","appId":"app1","conversationId":"c1","title":"Hi","body":"There","data":{"k":"v"}}`,
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectError:           true,
			expectedErrorContains: "failed to unmarshal vendor notification",
		},
		{
			name:                  "Failure - Missing identity",
			payload:               `{"accountId":"acct1","conversationId":"c1"}`,
			expectError:           true,
			expectedErrorContains: "accountId and appId are required",
		},
		{
			name:                  "Failure - Missing conversation",
			payload:               `{"accountId":"acct1","appId":"app1"}`,
			expectError:           true,
			expectedErrorContains: "conversationId is required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(tc.payload)},
			}
			n, skip, err := relay.VendorNotificationTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, "acct1/app1", n.InstallationKey())
			assert.Equal(t, "v", n.Notification().Data["k"])
			assert.Equal(t, "There", n.Message(3).Content.Body)
			assert.Equal(t, 3, n.Message(3).Badge)
		})
	}
}
