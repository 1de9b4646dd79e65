// Package comprice is a retrieval-augmented agent that answers questions
// about computer hardware devices.
//
// It combines semantic search over device descriptions (a VectorStore),
// structured lookups in a devices table (a StructuredStore) and a language
// model that decides, step by step, which tool to call and when to answer.
//
// # Quick Start
//
//	llm := comprice.WithRetry(openaicompat.NewProvider("", "llama3.1", "http://localhost:11434/v1"))
//	emb := openai.NewEmbedding("", "nomic-embed-text", openai.WithBaseURL("http://localhost:11434/v1"))
//	st := sqlite.New("comprice.db")
//
//	agent := comprice.NewAgent(llm,
//		comprice.WithTools(
//			retrieval.New(emb, st),
//			devices.New(st),
//		),
//		comprice.WithMaxSteps(10),
//	)
//
//	out := agent.Run(ctx, "What GPUs cost under $300?")
//	if out.Answered() {
//		fmt.Println(out.Text)
//	}
//
// # Run semantics
//
// Run never returns an error. Every run ends in exactly one Outcome: an
// answer, or a failure with a Reason (step_limit_exceeded, model_timeout,
// model_unavailable, cancelled). Running out of steps and running out of
// malformed-response retries share step_limit_exceeded; the *LimitError in
// Outcome.Err names which limit was hit.
// Tool failures, unknown tool names and unparseable model output are
// reported back to the model as observations so it can correct itself.
//
// # Core Interfaces
//
//   - Provider: chat model backend (provider/openaicompat, provider/anthropic)
//   - EmbeddingProvider: text embeddings (provider/openai)
//   - VectorStore, StructuredStore: device data (store/postgres, store/sqlite, store/duckdb)
//   - Tool: a capability the model can call (tools/retrieval, tools/devices)
//   - Tracer: span creation (observer)
package comprice
