package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/net4cleanair/litreview/engine/domain"
	"github.com/net4cleanair/litreview/engine/semantic"
)

// --- Mocks ---

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	return f.vector, f.err
}

type fakeSearcher struct {
	hits []semantic.SearchHit
	err  error
	topK int
}

func (f *fakeSearcher) Search(ctx context.Context, vector []float32, topK int, withPayload bool) ([]semantic.SearchHit, error) {
	f.topK = topK
	return f.hits, f.err
}

type fakeChatter struct {
	reply  string
	err    error
	prompt string
	system string
}

func (f *fakeChatter) Chat(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	f.system = system
	f.prompt = prompt
	return f.reply, f.err
}

func paperHits() []semantic.SearchHit {
	return []semantic.SearchHit{
		{
			ID:    int64(1),
			Score: 0.9,
			Payload: map[string]any{
				domain.ColumnTitle:    "PaperA",
				domain.ColumnAim:      "Measure CO2 in classrooms",
				domain.ColumnFindings: "Ventilation halves CO2",
			},
		},
		{
			ID:    int64(2),
			Score: 0.8,
			Payload: map[string]any{
				domain.ColumnTitle:    "PaperB",
				domain.ColumnFindings: "Filters reduce PM2.5",
			},
		},
	}
}

func newTestService(e Embedder, s Searcher, c Chatter) *Service {
	return New(e, s, c, DefaultOptions(), nil)
}

// --- Tests ---

func TestAnswer_Success(t *testing.T) {
	chat := &fakeChatter{reply: "  Ventilation is effective.  "}
	search := &fakeSearcher{hits: paperHits()}
	svc := newTestService(&fakeEmbedder{vector: []float32{1, 0}}, search, chat)

	ans, err := svc.Answer(context.Background(), "Does ventilation help?")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if ans.Text != "Ventilation is effective." {
		t.Errorf("text = %q", ans.Text)
	}
	if len(ans.Context) != 2 {
		t.Fatalf("context docs = %d, want 2", len(ans.Context))
	}
	if search.topK != 5 {
		t.Errorf("top_k = %d, want default 5", search.topK)
	}
	if chat.system != "You are a helpful research assistant." {
		t.Errorf("system prompt = %q", chat.system)
	}
}

func TestAnswer_PromptContainsContext(t *testing.T) {
	chat := &fakeChatter{reply: "ok"}
	svc := newTestService(&fakeEmbedder{vector: []float32{1}}, &fakeSearcher{hits: paperHits()}, chat)

	if _, err := svc.Answer(context.Background(), "Does ventilation help?"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	for _, want := range []string{
		"Title: PaperA",
		"Aim: Measure CO2 in classrooms",
		"Findings: Ventilation halves CO2",
		"Title: PaperB",
		"Question: Does ventilation help?",
	} {
		if !strings.Contains(chat.prompt, want) {
			t.Errorf("prompt missing %q\nprompt:\n%s", want, chat.prompt)
		}
	}
	if !strings.HasSuffix(chat.prompt, "Answer:") {
		t.Errorf("prompt should end with answer cue:\n%s", chat.prompt)
	}
}

func TestAnswer_EmptyQuestion(t *testing.T) {
	svc := newTestService(&fakeEmbedder{}, &fakeSearcher{}, &fakeChatter{})
	_, err := svc.Answer(context.Background(), "   ")
	if !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("error = %v, want ErrInvalidQuestion", err)
	}
}

func TestAnswer_EmbedErrorPropagates(t *testing.T) {
	svc := newTestService(
		&fakeEmbedder{err: errors.New("backend down")},
		&fakeSearcher{}, &fakeChatter{})
	_, err := svc.Answer(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAnswer_SearchErrorPropagates(t *testing.T) {
	svc := newTestService(
		&fakeEmbedder{vector: []float32{1}},
		&fakeSearcher{err: errors.New("qdrant away")},
		&fakeChatter{})
	_, err := svc.Answer(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestAnswer_ChatErrorBecomesAnswerText(t *testing.T) {
	svc := newTestService(
		&fakeEmbedder{vector: []float32{1}},
		&fakeSearcher{hits: paperHits()},
		&fakeChatter{err: errors.New("model overloaded")})

	ans, err := svc.Answer(context.Background(), "q")
	if err != nil {
		t.Fatalf("chat failure must not propagate, got %v", err)
	}
	if !strings.HasPrefix(ans.Text, "Error: ") {
		t.Errorf("text = %q, want Error: prefix", ans.Text)
	}
	if !strings.Contains(ans.Text, "model overloaded") {
		t.Errorf("text = %q, want cause included", ans.Text)
	}
	if len(ans.Context) != 2 {
		t.Errorf("retrieved docs should survive a chat failure, got %d", len(ans.Context))
	}
}

func TestAnswer_NoHits(t *testing.T) {
	chat := &fakeChatter{reply: "I could not find relevant papers."}
	svc := newTestService(&fakeEmbedder{vector: []float32{1}}, &fakeSearcher{}, chat)

	ans, err := svc.Answer(context.Background(), "q")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(ans.Context) != 0 {
		t.Errorf("context docs = %d, want 0", len(ans.Context))
	}
	if !strings.Contains(chat.prompt, "Literature:\n\n") {
		t.Errorf("empty context block missing:\n%s", chat.prompt)
	}
}

func TestBuildContext_MissingFields(t *testing.T) {
	got := buildContext([]semantic.SearchHit{
		{Payload: map[string]any{domain.ColumnTitle: "OnlyTitle"}},
	})
	want := "Title: OnlyTitle\nAim: \nFindings: "
	if got != want {
		t.Errorf("context = %q, want %q", got, want)
	}
}

func TestNew_OptionDefaults(t *testing.T) {
	search := &fakeSearcher{}
	svc := New(&fakeEmbedder{vector: []float32{1}}, search, &fakeChatter{reply: "x"}, Options{TopK: -1}, nil)
	if _, err := svc.Answer(context.Background(), "q"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if search.topK != 5 {
		t.Errorf("top_k = %d, want clamped default 5", search.topK)
	}
}
