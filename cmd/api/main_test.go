package main

import (
	"testing"
	"time"

	"github.com/kirillkom/docqa-orchestrator/internal/bootstrap"
	"github.com/kirillkom/docqa-orchestrator/internal/config"
)

func TestWriteTimeoutCoversWorstCaseQuery(t *testing.T) {
	t.Setenv("GENERATION_TIMEOUT", "")
	t.Setenv("RETRIEVAL_TIMEOUT", "")
	t.Setenv("EMBEDDING_TIMEOUT", "")
	t.Setenv("RETRY_MAX_ATTEMPTS", "")
	cfg := config.Load()

	got := writeTimeout(cfg)
	if budget := bootstrap.JobTimeout(cfg); got <= budget {
		t.Fatalf("write timeout %s must exceed query budget %s", got, budget)
	}
	if got < cfg.GenerationTimeout+cfg.RetrievalTimeout*time.Duration(cfg.RetryMaxAttempts) {
		t.Fatalf("write timeout %s shorter than retried retrieval plus generation", got)
	}
}
