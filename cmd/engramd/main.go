// engramd runs the long-term memory daemon: a WebSocket chat gateway
// over the memory manager, with a vector store backend selected from
// the environment and a periodic consolidation sweep.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/joho/godotenv"

	"github.com/becomeliminal/engram/core"
	"github.com/becomeliminal/engram/gateway"
	"github.com/becomeliminal/engram/history"
	"github.com/becomeliminal/engram/memory"
	"github.com/becomeliminal/engram/memory/embedder/cached"
	"github.com/becomeliminal/engram/memory/judge"
	"github.com/becomeliminal/engram/memory/judge/llm"
	"github.com/becomeliminal/engram/memory/store/chromem"
	"github.com/becomeliminal/engram/memory/store/qdrant"
)

const responderSystemPrompt = `You are a helpful assistant with long-term memory of past conversations. When relevant memories are provided, use them naturally; never recite them verbatim or mention the memory system.`

func main() {
	// ============================================================================
	// CONFIGURATION
	// ============================================================================
	// Load .env file if it exists (optional - will use system env vars if not found)
	_ = godotenv.Load()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	historyPath := os.Getenv("HISTORY_PATH")
	if historyPath == "" {
		historyPath = "data/history.db"
	}
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")

	// ============================================================================
	// EMBEDDER SETUP
	// ============================================================================
	baseEmbedder, closeEmbedder, err := newEmbedder()
	if err != nil {
		log.Fatalf("❌ Embedder setup failed: %v", err)
	}
	defer closeEmbedder()

	embedder, err := cached.New(baseEmbedder, 8192)
	if err != nil {
		log.Fatalf("❌ Embedding cache setup failed: %v", err)
	}
	defer embedder.Close()
	log.Println("✅ Embedder configured (cached)")

	// ============================================================================
	// VECTOR STORE SETUP
	// ============================================================================
	store, err := newStore(embedder.Dimensions())
	if err != nil {
		log.Fatalf("❌ Store setup failed: %v", err)
	}
	defer store.Close()

	// ============================================================================
	// SALIENCE / MERGE JUDGE SETUP
	// ============================================================================
	// With an API key the salience gate and merge judge run on a small
	// model; without one the heuristic implementations keep the daemon
	// fully offline.
	var (
		classifier memory.SalienceClassifier
		merger     memory.MergeJudge
		summarizer memory.Summarizer
	)
	if anthropicKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(anthropicKey))
		model := os.Getenv("ENGRAM_JUDGE_MODEL")
		classifier = llm.NewClassifier(&client, model)
		merger = llm.NewJudge(&client, model)
		summarizer = llm.NewSummarizer(&client, model)
		log.Println("✅ Model-assisted salience gate and merge judge configured")
	} else {
		classifier = judge.NewClassifier()
		merger = judge.NewJudge()
		log.Println("⚠️  ANTHROPIC_API_KEY not set: using heuristic salience gate, no diary summarization")
	}

	// ============================================================================
	// MEMORY MANAGER SETUP
	// ============================================================================
	hist, err := history.Open(historyPath)
	if err != nil {
		log.Fatalf("❌ History database setup failed: %v", err)
	}
	defer hist.Close()

	opts := []memory.Option{memory.WithHistory(hist)}
	if summarizer != nil {
		opts = append(opts, memory.WithSummarizer(summarizer))
	}
	manager := memory.NewManager(store, embedder, classifier, merger, opts...)
	log.Println("✅ Memory manager configured")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go manager.Run(ctx)

	// ============================================================================
	// GATEWAY SETUP
	// ============================================================================
	var respond gateway.Responder
	if anthropicKey != "" {
		client := anthropic.NewClient(option.WithAPIKey(anthropicKey))
		respond = newResponder(&client, os.Getenv("ENGRAM_CHAT_MODEL"))
	}

	gw := gateway.New(manager, respond)
	mux := http.NewServeMux()
	mux.Handle("/ws", gw.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ============================================================================
	// START SERVER
	// ============================================================================
	log.Println("=============================================================")
	log.Println("  engramd running")
	log.Println("=============================================================")
	log.Printf("WebSocket: ws://localhost:%s/ws", port)
	log.Printf("Health:    http://localhost:%s/health", port)
	log.Println("Press Ctrl+C to stop")
	log.Println("=============================================================")

	srv := &http.Server{Addr: ":" + port, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// newStore selects the vector store backend from STORE_BACKEND:
// "chromem" (default, in-process) or "qdrant" (external server).
func newStore(dimensions int) (memory.Store, error) {
	backend := strings.ToLower(os.Getenv("STORE_BACKEND"))
	switch backend {
	case "", "chromem":
		store, err := chromem.New()
		if err != nil {
			return nil, err
		}
		log.Println("✅ Vector store configured (chromem-go, in-process)")
		return store, nil

	case "qdrant":
		cfg := qdrant.Config{
			Host:       os.Getenv("QDRANT_HOST"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			Collection: os.Getenv("QDRANT_COLLECTION"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
			Dimensions: dimensions,
		}
		if p := os.Getenv("QDRANT_PORT"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid QDRANT_PORT %q: %w", p, err)
			}
			cfg.Port = port
		}
		store, err := qdrant.New(context.Background(), cfg)
		if err != nil {
			return nil, err
		}
		log.Printf("✅ Vector store configured (Qdrant at %s)", cfg.Host)
		return store, nil

	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q (want chromem or qdrant)", backend)
	}
}

// newResponder produces conversational replies with the memory context
// injected into the system prompt.
func newResponder(client *anthropic.Client, model string) gateway.Responder {
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	return func(ctx context.Context, turn core.Turn, memoryContext string) (string, error) {
		system := responderSystemPrompt
		if memoryContext != "" {
			system += "\n\n" + memoryContext
		}
		resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: 1024,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)),
			},
			System: []anthropic.TextBlockParam{
				{Text: system},
			},
		})
		if err != nil {
			return "", fmt.Errorf("claude API error: %w", err)
		}
		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		return strings.TrimSpace(text), nil
	}
}
