package ws

import "testing"

func TestParseClientMessage(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr bool
		want    ClientMessage
	}{
		{
			name: "subscribe health",
			raw:  `{"type":"subscribe-health"}`,
			want: ClientMessage{Type: MsgSubscribeHealth},
		},
		{
			name: "request health",
			raw:  `{"type":"request-health"}`,
			want: ClientMessage{Type: MsgRequestHealth},
		},
		{
			name: "subscribe deployment logs",
			raw:  `{"type":"subscribe-deployment-logs","deployment_id":"dep-123"}`,
			want: ClientMessage{Type: MsgSubscribeDeploymentLogs, DeploymentID: "dep-123"},
		},
		{
			name: "deployment id trimmed",
			raw:  `{"type":"unsubscribe-deployment-logs","deployment_id":"  dep-123  "}`,
			want: ClientMessage{Type: MsgUnsubscribeDeploymentLogs, DeploymentID: "dep-123"},
		},
		{
			name:    "room message without deployment id",
			raw:     `{"type":"subscribe-deployment-logs"}`,
			wantErr: true,
		},
		{
			name:    "unknown type",
			raw:     `{"type":"subscribe-everything"}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			raw:     `{"type":`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseClientMessage([]byte(tc.raw))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}
