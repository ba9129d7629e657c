package ws

import (
	"context"
	"errors"
	"io"
	"testing"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		want    Event
		wantErr error
	}{
		{
			name:  "typing",
			frame: `{"type":"typing","payload":{"recipient":"u2","typing":true}}`,
			want:  TypingEvent{Recipient: "u2", Typing: true},
		},
		{
			name:  "chat text",
			frame: `{"type":"chat","payload":{"recipient":"u2","text":"hi"}}`,
			want:  ChatEvent{Recipient: "u2", Text: "hi"},
		},
		{
			name:  "delete",
			frame: `{"type":"delete","payload":{"messageId":"abc"}}`,
			want:  DeleteEvent{MessageID: "abc"},
		},
		{name: "not json", frame: `hello`, wantErr: ErrMalformedFrame},
		{name: "unknown type", frame: `{"type":"join","payload":{}}`, wantErr: ErrUnknownEvent},
		{name: "missing payload", frame: `{"type":"typing"}`, wantErr: ErrInvalidEvent},
		{name: "typing without recipient", frame: `{"type":"typing","payload":{"typing":true}}`, wantErr: ErrInvalidEvent},
		{name: "chat without recipient", frame: `{"type":"chat","payload":{"text":"hi"}}`, wantErr: ErrInvalidEvent},
		{name: "chat without content", frame: `{"type":"chat","payload":{"recipient":"u2","text":"  "}}`, wantErr: ErrInvalidEvent},
		{name: "chat file without data", frame: `{"type":"chat","payload":{"recipient":"u2","file":{"name":"a.png"}}}`, wantErr: ErrInvalidEvent},
		{name: "delete without id", frame: `{"type":"delete","payload":{}}`, wantErr: ErrInvalidEvent},
		{name: "wrong field type", frame: `{"type":"typing","payload":{"recipient":5}}`, wantErr: ErrInvalidEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.frame))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestDecodeChatWithFile(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"chat","payload":{"recipient":"u2","file":{"name":"a.txt","data":"aGk="}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	chat, ok := ev.(ChatEvent)
	if !ok {
		t.Fatalf("expected ChatEvent, got %T", ev)
	}
	if chat.File == nil || chat.File.Name != "a.txt" || chat.File.Data != "aGk=" {
		t.Fatalf("unexpected file payload: %+v", chat.File)
	}
}

func TestEventsYieldsUntilReadFails(t *testing.T) {
	frames := [][]byte{
		[]byte(`{"type":"typing","payload":{"recipient":"u2","typing":true}}`),
		[]byte(`garbage`),
		[]byte(`{"type":"delete","payload":{"messageId":"x"}}`),
	}
	i := 0
	read := func(context.Context) ([]byte, error) {
		if i == len(frames) {
			return nil, io.EOF
		}
		i++
		return frames[i-1], nil
	}

	var events []Event
	var errs []error
	for ev, err := range Events(context.Background(), read) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if len(errs) != 1 || !errors.Is(errs[0], ErrMalformedFrame) {
		t.Fatalf("expected one malformed frame error, got %v", errs)
	}
}

func TestEventsStopsWhenConsumerBreaks(t *testing.T) {
	reads := 0
	read := func(context.Context) ([]byte, error) {
		reads++
		return []byte(`{"type":"delete","payload":{"messageId":"x"}}`), nil
	}
	for range Events(context.Background(), read) {
		break
	}
	if reads != 1 {
		t.Fatalf("expected a single read, got %d", reads)
	}
}
