package types

import (
	"errors"
	"testing"
)

func TestParseChatRequest_Valid(t *testing.T) {
	body := []byte(`{"model":"modelA","messages":[{"role":"user","content":"hi"}],"temperature":0.2,"stop":["\n"],"stream":false}`)

	req, err := ParseChatRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Model != "modelA" {
		t.Errorf("expected model modelA, got %s", req.Model)
	}
	if len(req.Messages) != 1 || req.Messages[0].Content != "hi" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
	if string(req.Stop) != `["\n"]` {
		t.Errorf("expected stop to be kept raw, got %s", req.Stop)
	}
	if req.Stream == nil || *req.Stream {
		t.Errorf("expected stream=false to be decoded, got %v", req.Stream)
	}
}

func TestParseChatRequest_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{"model":`},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`},
		{"missing messages", `{"model":"modelA"}`},
		{"message without role", `{"model":"modelA","messages":[{"content":"hi"}]}`},
		{"content not a string", `{"model":"modelA","messages":[{"role":"user","content":7}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseChatRequest([]byte(tt.body))
			var ire *InvalidRequestError
			if !errors.As(err, &ire) {
				t.Fatalf("expected InvalidRequestError, got %v", err)
			}
		})
	}
}

func TestModelNotFoundError_Message(t *testing.T) {
	err := &ModelNotFoundError{Model: "unknown"}
	want := "Model 'unknown' not found in gateway configuration."
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

func TestBackendUnreachableError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &BackendUnreachableError{URL: "http://host1", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("expected BackendUnreachableError to unwrap to its cause")
	}
}
