package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/chorus-llm/chorus/pkg/api"
)

// fakeAdapter is a minimal Adapter for registry tests.
type fakeAdapter struct {
	name   string
	secret string
}

func (f *fakeAdapter) Name() string       { return f.name }
func (f *fakeAdapter) Metadata() Metadata { return Metadata{ID: f.name} }
func (f *fakeAdapter) TestConnection(ctx context.Context) ConnectionResult {
	return ConnectionResult{Success: true}
}
func (f *fakeAdapter) Chat(ctx context.Context, req *api.ChatRequest) (*api.ChatResponse, error) {
	return &api.ChatResponse{Content: "ok"}, nil
}
func (f *fakeAdapter) StreamChat(ctx context.Context, req *api.ChatRequest) (<-chan api.ChatChunk, error) {
	ch := make(chan api.ChatChunk, 1)
	ch <- api.TerminalChunk(api.FinishReasonStop, nil)
	close(ch)
	return ch, nil
}
func (f *fakeAdapter) Models(ctx context.Context) []ModelInfo { return nil }
func (f *fakeAdapter) Close() error                           { return nil }

func testRegistry() *Registry {
	r := NewRegistry()
	for _, id := range []string{"openai", "anthropic"} {
		id := id
		r.Register(Metadata{ID: id, DisplayName: id, SupportsStreaming: true},
			func(secret string) (Adapter, error) {
				return &fakeAdapter{name: id, secret: secret}, nil
			})
	}
	return r
}

func TestRegistryGet(t *testing.T) {
	r := testRegistry()
	meta, err := r.Get("openai")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if meta.ID != "openai" {
		t.Errorf("meta.ID = %q", meta.ID)
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r := testRegistry()
	_, err := r.Get("nope")
	var apiErr *api.Error
	if !errors.As(err, &apiErr) || apiErr.Type != api.ErrorTypeUnknownProvider {
		t.Fatalf("expected unknown provider error, got %v", err)
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := testRegistry()
	list := r.List()
	if len(list) != 2 || list[0].ID != "anthropic" || list[1].ID != "openai" {
		t.Errorf("List() = %v", list)
	}
}

func TestRegistryCreateAdapter(t *testing.T) {
	r := testRegistry()
	a, err := r.CreateAdapter("openai", "sk-test")
	if err != nil {
		t.Fatalf("CreateAdapter: %v", err)
	}
	if a.Name() != "openai" {
		t.Errorf("Name() = %q", a.Name())
	}
	if a.(*fakeAdapter).secret != "sk-test" {
		t.Error("secret not passed to factory")
	}
}

func TestRegistryCreateAdapterUnknown(t *testing.T) {
	r := testRegistry()
	if _, err := r.CreateAdapter("nope", ""); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestRegistryRefreshModels(t *testing.T) {
	r := testRegistry()
	r.RefreshModels("openai", []ModelInfo{{ID: "gpt-4o"}, {ID: "gpt-4o-mini"}})
	meta, _ := r.Get("openai")
	if len(meta.Models) != 2 {
		t.Errorf("models = %v", meta.Models)
	}

	// Empty refresh degrades to the static copy.
	r.RefreshModels("openai", nil)
	meta, _ = r.Get("openai")
	if len(meta.Models) != 2 {
		t.Error("empty refresh should not clear the model list")
	}
}
