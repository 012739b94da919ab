package protocol

import "testing"

func TestValidateChannelName(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		wantErr ErrorCode
	}{
		{"ok", "chat:lobby", 0},
		{"empty", "", ErrInvalidChannel},
		{"too long", string(make([]byte, 257)), ErrInvalidChannel},
		{"control byte", "chat\x1flobby", ErrInvalidChannel},
		{"del byte", "chat\x7flobby", ErrInvalidChannel},
		{"reserved prefix", "$internal", ErrForbidden},
		{"presence ok", "presence:room", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChannelName(tt.channel)
			if tt.wantErr == 0 {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			perr, ok := err.(*Error)
			if !ok {
				t.Fatalf("expected *Error, got %v", err)
			}
			if perr.Code != tt.wantErr {
				t.Fatalf("got code %v want %v", perr.Code, tt.wantErr)
			}
		})
	}
}

func TestIsPresenceChannel(t *testing.T) {
	if !IsPresenceChannel("presence:room") {
		t.Fatal("expected presence:room to be a presence channel")
	}
	if IsPresenceChannel("chat:lobby") {
		t.Fatal("expected chat:lobby not to be a presence channel")
	}
}
