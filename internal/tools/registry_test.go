package tools

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/eternisai/enchanted-chat/internal/genai"
	"github.com/eternisai/enchanted-chat/internal/logger"
)

type stubTool struct {
	name string
}

func (t *stubTool) Name() string { return t.name }

func (t *stubTool) Declaration() genai.ToolDeclaration {
	return genai.ToolDeclaration{Name: t.name, Description: "stub"}
}

func (t *stubTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	return "ok", nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(&stubTool{name: "a"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(&stubTool{name: "a"}); err == nil {
		t.Error("duplicate registration did not fail")
	}

	if _, ok := r.Get("a"); !ok {
		t.Error("registered tool not found")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("unregistered tool found")
	}
}

func TestRegistryRun(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&stubTool{name: "a"})

	got, err := r.Run(context.Background(), "a", nil)
	if err != nil || got != "ok" {
		t.Errorf("Run = %q, %v", got, err)
	}

	_, err = r.Run(context.Background(), "missing", nil)
	if !errors.Is(err, genai.ErrToolNotRegistered) {
		t.Errorf("Run(missing) err = %v, want ErrToolNotRegistered", err)
	}
}

func TestRegistryDeclarations(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&stubTool{name: "a"})
	_ = r.Register(&stubTool{name: "b"})

	decls := r.Declarations()
	if len(decls) != 2 {
		t.Fatalf("got %d declarations", len(decls))
	}
	if len(r.List()) != 2 {
		t.Errorf("List = %v", r.List())
	}
}

func TestWebSearchRequiresQuery(t *testing.T) {
	log := logger.New(logger.Config{Level: slog.LevelError})
	tool := NewWebSearchTool("test-key", log)

	for _, args := range []map[string]interface{}{
		nil,
		{},
		{"q": ""},
		{"q": "   "},
		{"q": 42},
	} {
		if _, err := tool.Execute(context.Background(), args); err == nil {
			t.Errorf("Execute(%v) did not fail", args)
		}
	}
}

func TestWebSearchDeclaration(t *testing.T) {
	log := logger.New(logger.Config{Level: slog.LevelError})
	tool := NewWebSearchTool("test-key", log)

	decl := tool.Declaration()
	if decl.Name != "web_search" || tool.Name() != "web_search" {
		t.Errorf("name = %q / %q", decl.Name, tool.Name())
	}
	props := decl.Parameters["properties"].(map[string]interface{})
	if _, ok := props["q"]; !ok {
		t.Error("declaration missing q parameter")
	}
}
