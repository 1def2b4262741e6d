package main

import (
	"errors"
	"strings"
	"testing"

	"docflow/internal/services"
)

func TestManualPipelineWithoutEntities(t *testing.T) {
	env := setupCLITestEnv(t)
	source := env.writeSource(t, "report.png")

	out := mustRunCLI(t, env, "add", source, "--entities", "off")
	requireContains(t, out, "Registered report.png")

	docs := listDocuments(t, env)
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	doc := docs[0]
	if doc.Stage != "uploaded" || doc.Version != 0 || doc.Status != "pending" {
		t.Fatalf("unexpected initial document %+v", doc)
	}
	if strings.Join(doc.Actions, ",") != "split,extract" {
		t.Fatalf("unexpected actions %v", doc.Actions)
	}

	requireContains(t, mustRunCLI(t, env, "split", doc.ID), "now split_completed (version 1)")
	requireContains(t, mustRunCLI(t, env, "extract", doc.ID[:8]), "now extracted (version 2)")
	requireContains(t, mustRunCLI(t, env, "refine", doc.ID, "--version", "2"), "now refined (version 3)")

	text := mustRunCLI(t, env, "show", doc.ID, "--text")
	requireContains(t, text, "Annual report")

	details := mustRunCLI(t, env, "show", doc.ID)
	requireContains(t, details, "Refined (completed)")
	requireContains(t, details, "extraction, refinement, split")

	actions := mustRunCLI(t, env, "actions", doc.ID)
	requireContains(t, actions, "No actions available at refined")

	_, _, err := runCLI(t, []string{"refine", doc.ID}, env.configPath)
	if err == nil {
		t.Fatal("expected refine of a refined document to fail")
	}
	if kind := services.Kind(err); kind != "validation" {
		t.Fatalf("expected validation error, got %q (%v)", kind, err)
	}
}

func TestStaleVersionIsRejected(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRunCLI(t, env, "add", env.writeSource(t, "scan.png"))
	id := listDocuments(t, env)[0].ID

	mustRunCLI(t, env, "split", id)
	_, _, err := runCLI(t, []string{"extract", id, "--version", "0"}, env.configPath)
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}
	if doc := listDocuments(t, env)[0]; doc.Stage != "split_completed" || doc.Version != 1 {
		t.Fatalf("stale request must not change the record: %+v", doc)
	}
}

func TestEntityConfirmationFlow(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRunCLI(t, env, "add", env.writeSource(t, "annual.png"), "--entities", "on")
	id := listDocuments(t, env)[0].ID

	mustRunCLI(t, env, "split", id)
	mustRunCLI(t, env, "extract", id)

	_, _, err := runCLI(t, []string{"refine", id}, env.configPath)
	if !errors.Is(err, services.ErrConfirmationRequired) {
		t.Fatalf("expected confirmation required, got %v", err)
	}

	requireContains(t, mustRunCLI(t, env, "entities", id, "--mode", "fast"), "now entity_pending_confirm (version 3)")
	actions := mustRunCLI(t, env, "actions", id)
	requireContains(t, actions, "confirm_entities")
	requireContains(t, actions, "skip_entities")

	requireContains(t, mustRunCLI(t, env, "confirm", id, "--guidance", "年度报告=Annual Report"), "confirmed (version 4)")
	requireContains(t, mustRunCLI(t, env, "refine", id), "now refined (version 5)")

	bodies := env.llmBodies()
	if len(bodies) == 0 {
		t.Fatal("expected refinement requests")
	}
	requireContains(t, bodies[len(bodies)-1], "年度报告 => Annual Report")
}

func TestSkipEntitiesThenRefine(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRunCLI(t, env, "add", env.writeSource(t, "memo.png"), "--entities", "on")
	id := listDocuments(t, env)[0].ID

	mustRunCLI(t, env, "split", id)
	mustRunCLI(t, env, "extract", id)
	mustRunCLI(t, env, "entities", id)
	requireContains(t, mustRunCLI(t, env, "skip-entities", id), "now extracted")

	doc := listDocuments(t, env)[0]
	if doc.EntityRecognition {
		t.Fatal("expected entity recognition disabled after skip")
	}
	mustRunCLI(t, env, "refine", id)
	for _, body := range env.llmBodies() {
		if strings.Contains(body, "ENTITY GUIDANCE") {
			t.Fatalf("skipped entities must not produce guidance: %s", body)
		}
	}
}

func TestSetEntitiesAndRemove(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRunCLI(t, env, "add", env.writeSource(t, "letter.png"))
	id := listDocuments(t, env)[0].ID

	requireContains(t, mustRunCLI(t, env, "set-entities", id, "on"), "now uploaded (version 1)")
	if !listDocuments(t, env)[0].EntityRecognition {
		t.Fatal("expected entity recognition enabled")
	}
	if _, _, err := runCLI(t, []string{"set-entities", id, "maybe"}, env.configPath); err == nil {
		t.Fatal("expected invalid toggle value to fail")
	}

	requireContains(t, mustRunCLI(t, env, "remove", id), "Removed "+id)
	requireContains(t, mustRunCLI(t, env, "list"), "No documents")

	_, _, err := runCLI(t, []string{"show", id}, env.configPath)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found after remove, got %v", err)
	}
}

func TestAddRejectsMissingSource(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"add", env.baseDir + "/missing.pdf"}, env.configPath)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatusReportsCountsAndStages(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRunCLI(t, env, "add", env.writeSource(t, "a.png"))

	out := mustRunCLI(t, env, "status")
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "not running")
	requireContains(t, out, "pending")
	requireContains(t, out, "== Stages ==")
	requireContains(t, out, "extraction")
}

func TestWatchRequiresRedis(t *testing.T) {
	env := setupCLITestEnv(t)
	_, _, err := runCLI(t, []string{"watch"}, env.configPath)
	if err == nil || !strings.Contains(err.Error(), "redis_addr") {
		t.Fatalf("expected redis configuration error, got %v", err)
	}
}

func TestEventsFlagListsPublishedTransitions(t *testing.T) {
	env := setupCLITestEnv(t)
	mustRunCLI(t, env, "add", env.writeSource(t, "memo.png"), "--entities", "off")
	id := listDocuments(t, env)[0].ID

	out := mustRunCLI(t, env, "split", id, "--events")
	requireContains(t, out, "== Events ==")
	requireContains(t, out, "splitting")
	requireContains(t, out, "split_completed")

	quiet := mustRunCLI(t, env, "extract", id)
	if strings.Contains(quiet, "== Events ==") {
		t.Fatalf("events printed without --events:\n%s", quiet)
	}
}
