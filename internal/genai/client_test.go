package genai

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
)

func newSSETestStream(body string) *sseStream {
	rc := io.NopCloser(strings.NewReader(body))
	return &sseStream{body: rc, scanner: newSSEScanner(rc)}
}

func TestSSEStreamParsesTextChunks(t *testing.T) {
	body := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"he\"}]}}]}\n" +
		"\n" +
		"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"llo\"}]}}]}\n" +
		"data: [DONE]\n"
	s := newSSETestStream(body)

	var got []string
	for {
		chunk, err := s.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, chunk.Text)
	}
	if len(got) != 2 || got[0] != "he" || got[1] != "llo" {
		t.Errorf("chunks = %v", got)
	}
}

func TestSSEStreamSkipsMalformedLines(t *testing.T) {
	body := "data: {not json\n" +
		": keep-alive comment\n" +
		"data: {\"candidates\":[{\"content\":{\"parts\":[{\"text\":\"ok\"}]}}]}\n"
	s := newSSETestStream(body)

	chunk, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if chunk.Text != "ok" {
		t.Errorf("text = %q", chunk.Text)
	}
	if _, err := s.Next(); err != io.EOF {
		t.Errorf("err = %v, want EOF", err)
	}
}

func TestSSEStreamBlockAndFinishReasons(t *testing.T) {
	body := "data: {\"promptFeedback\":{\"blockReason\":\"SAFETY\"}}\n" +
		"data: {\"candidates\":[{\"content\":{\"parts\":[]},\"finishReason\":\"SAFETY\"}]}\n"
	s := newSSETestStream(body)

	chunk, _ := s.Next()
	if chunk.BlockReason != "SAFETY" || !chunk.Blocked() {
		t.Errorf("first chunk = %+v", chunk)
	}
	chunk, _ = s.Next()
	if chunk.FinishReason != "SAFETY" || !chunk.Blocked() {
		t.Errorf("second chunk = %+v", chunk)
	}
}

func TestSSEStreamFunctionCalls(t *testing.T) {
	body := "data: {\"candidates\":[{\"content\":{\"parts\":[{\"functionCall\":{\"name\":\"web_search\",\"args\":{\"q\":\"go\"}}}]}}]}\n"
	s := newSSETestStream(body)

	chunk, err := s.Next()
	if err != nil {
		t.Fatal(err)
	}
	if len(chunk.FunctionCalls) != 1 {
		t.Fatalf("function calls = %v", chunk.FunctionCalls)
	}
	fc := chunk.FunctionCalls[0]
	if fc.Name != "web_search" || fc.Args["q"] != "go" {
		t.Errorf("function call = %+v", fc)
	}
}

func TestIsAuthError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&APIError{StatusCode: http.StatusUnauthorized}, true},
		{&APIError{StatusCode: http.StatusForbidden}, true},
		{&APIError{StatusCode: http.StatusBadRequest, Message: "API key not valid. API_KEY_INVALID"}, true},
		{&APIError{StatusCode: http.StatusTooManyRequests, Message: "quota exceeded"}, false},
		{&APIError{StatusCode: http.StatusInternalServerError}, false},
		{errors.New("dial tcp: connection refused"), false},
		{nil, false},
	}
	for _, c := range cases {
		if got := IsAuthError(c.err); got != c.want {
			t.Errorf("IsAuthError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
