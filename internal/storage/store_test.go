package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/primehq/prime/internal/idempotency"
	"github.com/primehq/prime/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// The pool would otherwise hand out fresh connections, each with
	// its own empty in-memory database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewWithDB(context.Background(), db)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestAgentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := &models.Agent{
		ID:             uuid.NewString(),
		OrgID:          "org-1",
		Name:           "support",
		DMPolicy:       models.DMPolicyAllowlist,
		AllowedUserIDs: []string{"u1", "u2"},
		SystemPrompt:   "be helpful",
		Active:         true,
		CreatedAt:      time.Now(),
	}
	if err := store.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}

	got, err := store.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != "support" || got.DMPolicy != models.DMPolicyAllowlist {
		t.Fatalf("unexpected agent %+v", got)
	}
	if len(got.AllowedUserIDs) != 2 || got.AllowedUserIDs[1] != "u2" {
		t.Fatalf("allowlist lost in round trip: %v", got.AllowedUserIDs)
	}

	got.Name = "support-v2"
	got.Active = false
	if err := store.UpdateAgent(ctx, got); err != nil {
		t.Fatalf("UpdateAgent: %v", err)
	}
	updated, err := store.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent after update: %v", err)
	}
	if updated.Name != "support-v2" || updated.Active {
		t.Fatalf("update not persisted: %+v", updated)
	}

	if err := store.DeleteAgent(ctx, agent.ID); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, err := store.GetAgent(ctx, agent.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteAgent(ctx, agent.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double delete, got %v", err)
	}
}

func TestFindBotByTokenChecksChannel(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bot := &models.Bot{
		ID:        uuid.NewString(),
		OrgID:     "org-1",
		Name:      "tg-bot",
		Token:     "tok-123",
		Channels:  []models.ChannelType{models.ChannelTelegram},
		Active:    true,
		CreatedAt: time.Now(),
	}
	if err := store.CreateBot(ctx, bot); err != nil {
		t.Fatalf("CreateBot: %v", err)
	}

	found, err := store.FindBotByToken(ctx, models.ChannelTelegram, "tok-123")
	if err != nil || found == nil {
		t.Fatalf("telegram lookup failed: %v %v", found, err)
	}
	other, err := store.FindBotByToken(ctx, models.ChannelSlack, "tok-123")
	if err != nil {
		t.Fatalf("slack lookup errored: %v", err)
	}
	if other != nil {
		t.Fatal("token should not resolve for a channel the bot does not serve")
	}

	dup := &models.Bot{ID: uuid.NewString(), OrgID: "org-1", Name: "dup", Token: "tok-123", CreatedAt: time.Now()}
	if err := store.CreateBot(ctx, dup); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists for duplicate token, got %v", err)
	}
}

func TestActiveBindingsFiltersAndOrders(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mk := func(priority int, active bool, channel models.ChannelType) *models.Binding {
		return &models.Binding{
			ID: uuid.NewString(), OrgID: "org-1", AgentID: "a1",
			Channel: channel, Priority: priority, Active: active, CreatedAt: time.Now(),
		}
	}
	for _, b := range []*models.Binding{
		mk(20, true, models.ChannelTelegram),
		mk(10, true, models.ChannelTelegram),
		mk(5, false, models.ChannelTelegram),
		mk(1, true, models.ChannelSlack),
	} {
		if err := store.CreateBinding(ctx, b); err != nil {
			t.Fatalf("CreateBinding: %v", err)
		}
	}

	bindings, err := store.ActiveBindings(ctx, models.ChannelTelegram)
	if err != nil {
		t.Fatalf("ActiveBindings: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 active telegram bindings, got %d", len(bindings))
	}
	if bindings[0].Priority != 10 || bindings[1].Priority != 20 {
		t.Fatalf("wrong priority order: %d, %d", bindings[0].Priority, bindings[1].Priority)
	}
}

func TestUpsertChannelUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.UpsertChannelUser(ctx, "org-1", "alice", 42)
	if err != nil {
		t.Fatalf("UpsertChannelUser: %v", err)
	}
	if first.Role != models.RoleUser {
		t.Fatalf("new channel user should default to user role, got %s", first.Role)
	}

	second, err := store.UpsertChannelUser(ctx, "org-1", "alice", 42)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("repeat upsert created a second identity")
	}

	// Same username without numeric id still resolves.
	third, err := store.UpsertChannelUser(ctx, "org-1", "alice", 0)
	if err != nil || third.ID != first.ID {
		t.Fatalf("username fallback failed: %v %v", third, err)
	}

	byName, err := store.FindUserByUsername(ctx, "alice")
	if err != nil || byName == nil || byName.ID != first.ID {
		t.Fatalf("FindUserByUsername: %v %v", byName, err)
	}
	missing, err := store.FindUserByUsername(ctx, "nobody")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown username, got %v %v", missing, err)
	}
}

func TestSessionAndTranscript(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := &models.Session{
		OrgID: "org-1", BotID: "b1", UserID: "u1", AgentID: "a1",
		Channel: models.ChannelTelegram, Peer: "chat-9",
	}
	sess, err := store.FindOrCreateSession(ctx, seed)
	if err != nil {
		t.Fatalf("FindOrCreateSession: %v", err)
	}
	if sess.Status != models.SessionActive || sess.ID == "" {
		t.Fatalf("unexpected session %+v", sess)
	}

	again, err := store.FindOrCreateSession(ctx, seed)
	if err != nil {
		t.Fatalf("second FindOrCreateSession: %v", err)
	}
	if again.ID != sess.ID {
		t.Fatal("active session should be reused")
	}

	base := time.Now().Add(-time.Minute)
	for i, content := range []string{"hello", "hi there", "what's up"} {
		role := models.RoleUserMsg
		if i == 1 {
			role = models.RoleAssistant
		}
		msg := &models.Message{
			SessionID:   sess.ID,
			Role:        role,
			Content:     content,
			ContentType: models.ContentText,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}
		if i == 1 {
			msg.Meta = &models.MessageMeta{Usage: &models.Usage{InputTokens: 12, OutputTokens: 30}, Model: "gpt-4o-mini"}
		}
		if err := store.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
	}

	history, err := store.ListRecentMessages(ctx, sess.ID, 2)
	if err != nil {
		t.Fatalf("ListRecentMessages: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Content != "hi there" || history[1].Content != "what's up" {
		t.Fatalf("wrong transcript order: %q, %q", history[0].Content, history[1].Content)
	}
	if history[0].Meta == nil || history[0].Meta.Usage.OutputTokens != 30 {
		t.Fatalf("message meta lost: %+v", history[0].Meta)
	}

	if err := store.UpdateSessionStatus(ctx, sess.ID, models.SessionFinished); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}
	fresh, err := store.FindOrCreateSession(ctx, seed)
	if err != nil {
		t.Fatalf("FindOrCreateSession after finish: %v", err)
	}
	if fresh.ID == sess.ID {
		t.Fatal("finished session should not be reused")
	}
}

func TestIdempotencyStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	rec := &models.IdempotencyKey{
		Key: "k1", ActorID: "u1", Method: "tasks.create", RequestHash: "abc",
		Status: models.IdempotencyInProgress, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	if err := store.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := store.Insert(ctx, rec); !errors.Is(err, idempotency.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	rec.Status = models.IdempotencyCompleted
	rec.Response = []byte(`{"ok":true}`)
	if err := store.Update(ctx, rec); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, "k1", "u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.IdempotencyCompleted || string(got.Response) != `{"ok":true}` {
		t.Fatalf("unexpected record %+v", got)
	}
	if _, err := store.Get(ctx, "k1", "other-actor"); !errors.Is(err, idempotency.ErrNotFound) {
		t.Fatalf("actor scoping broken: %v", err)
	}

	n, err := store.DeleteExpired(ctx, now.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired = %d, %v", n, err)
	}
}

func TestExpiredReservationTakeoverReplays(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	clock := time.Now()
	svc := idempotency.NewService(store,
		idempotency.WithTTL(time.Hour),
		idempotency.WithNow(func() time.Time { return clock }))

	paramsA := map[string]any{"kind": "report", "day": "monday"}
	if replay, err := svc.ReserveOrGet(ctx, "k1", "u1", "tasks.create", paramsA); err != nil || replay != nil {
		t.Fatalf("first reserve = %s, %v", replay, err)
	}
	if err := svc.Complete(ctx, "k1", "u1", map[string]string{"id": "task-a"}); err != nil {
		t.Fatalf("complete A: %v", err)
	}

	clock = clock.Add(2 * time.Hour)

	paramsB := map[string]any{"kind": "report", "day": "tuesday"}
	if replay, err := svc.ReserveOrGet(ctx, "k1", "u1", "tasks.create", paramsB); err != nil || replay != nil {
		t.Fatalf("takeover reserve = %s, %v", replay, err)
	}
	if err := svc.Complete(ctx, "k1", "u1", map[string]string{"id": "task-b"}); err != nil {
		t.Fatalf("complete B: %v", err)
	}

	replay, err := svc.ReserveOrGet(ctx, "k1", "u1", "tasks.create", paramsB)
	if err != nil {
		t.Fatalf("retry after takeover: %v", err)
	}
	if string(replay) != `{"id":"task-b"}` {
		t.Fatalf("replayed %s, want task-b response", replay)
	}

	// The pre-expiry params no longer match the stored request.
	if _, err := svc.ReserveOrGet(ctx, "k1", "u1", "tasks.create", paramsA); !errors.Is(err, idempotency.ErrConflict) {
		t.Fatalf("stale params = %v, want ErrConflict", err)
	}
}

func TestPairingLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	req := &models.PairingRequest{
		ID: uuid.NewString(), AgentID: "a1", Channel: models.ChannelTelegram,
		AccountID: "acct", Peer: "peer-1", Code: "WXYZ2345",
		Status: models.PairingPending, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	if err := store.CreateRequest(ctx, req); err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}

	pending, err := store.FindPending(ctx, "a1", models.ChannelTelegram, "acct", "peer-1")
	if err != nil || pending == nil || pending.ID != req.ID {
		t.Fatalf("FindPending: %v %v", pending, err)
	}

	byCode, err := store.FindPairingByCode(ctx, "WXYZ2345")
	if err != nil || byCode == nil {
		t.Fatalf("FindPairingByCode: %v %v", byCode, err)
	}

	listed, err := store.ListPairingRequests(ctx, models.PairingPending)
	if err != nil || len(listed) != 1 || listed[0].ID != req.ID {
		t.Fatalf("ListPairingRequests = %v, %v", listed, err)
	}

	flipped, err := store.UpdatePairingStatus(ctx, req.ID, models.PairingApproved)
	if err != nil || !flipped {
		t.Fatalf("UpdatePairingStatus = %v, %v", flipped, err)
	}
	again, err := store.UpdatePairingStatus(ctx, req.ID, models.PairingDenied)
	if err != nil {
		t.Fatalf("second UpdatePairingStatus: %v", err)
	}
	if again {
		t.Fatal("decided request must not flip twice")
	}
	listed, err = store.ListPairingRequests(ctx, models.PairingPending)
	if err != nil || len(listed) != 0 {
		t.Fatalf("decided request still listed as pending: %v, %v", listed, err)
	}

	paired, err := store.IsPaired(ctx, "a1", models.ChannelTelegram, "acct", "peer-1")
	if err != nil || paired {
		t.Fatalf("not yet paired, got %v %v", paired, err)
	}
	dev := &models.PairedDevice{
		ID: uuid.NewString(), AgentID: "a1", Channel: models.ChannelTelegram,
		AccountID: "acct", Peer: "peer-1", PairedAt: now,
	}
	if err := store.CreatePairedDevice(ctx, dev); err != nil {
		t.Fatalf("CreatePairedDevice: %v", err)
	}
	paired, err = store.IsPaired(ctx, "a1", models.ChannelTelegram, "acct", "peer-1")
	if err != nil || !paired {
		t.Fatalf("expected paired, got %v %v", paired, err)
	}
	if err := store.RevokePairedDevice(ctx, dev.ID); err != nil {
		t.Fatalf("RevokePairedDevice: %v", err)
	}
	paired, _ = store.IsPaired(ctx, "a1", models.ChannelTelegram, "acct", "peer-1")
	if paired {
		t.Fatal("revoked device still paired")
	}
}

func TestCronJobLastRunRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job := &models.CronJob{
		ID: uuid.NewString(), OrgID: "org-1", Name: "standup",
		Schedule: "0 9 * * 1-5", Message: "post standup", AgentID: "a1",
		Active: true, CreatedAt: time.Now(),
	}
	if err := store.CreateCronJob(ctx, job); err != nil {
		t.Fatalf("CreateCronJob: %v", err)
	}

	jobs, err := store.ListActiveCronJobs(ctx)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListActiveCronJobs: %v %v", jobs, err)
	}
	if jobs[0].LastRunAt != nil {
		t.Fatal("fresh job should have nil LastRunAt")
	}

	ran := time.Now().Truncate(time.Second)
	jobs[0].LastRunAt = &ran
	if err := store.UpdateCronJob(ctx, &jobs[0]); err != nil {
		t.Fatalf("UpdateCronJob: %v", err)
	}
	jobs, err = store.ListCronJobs(ctx, "a1")
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListCronJobs: %v %v", jobs, err)
	}
	if jobs[0].LastRunAt == nil || !jobs[0].LastRunAt.Equal(ran) {
		t.Fatalf("LastRunAt lost in round trip: %v", jobs[0].LastRunAt)
	}
}

func TestFindWebhookByPath(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hook := &models.Webhook{
		ID: uuid.NewString(), OrgID: "org-1", Name: "deploys", Path: "ci/deploys",
		MessageTemplate: "deploy {status}", AgentID: "a1", Secret: "shh",
		Active: true, CreatedAt: time.Now(),
	}
	if err := store.CreateWebhook(ctx, hook); err != nil {
		t.Fatalf("CreateWebhook: %v", err)
	}

	found, err := store.FindWebhookByPath(ctx, "ci/deploys")
	if err != nil || found == nil || found.Secret != "shh" {
		t.Fatalf("FindWebhookByPath: %v %v", found, err)
	}
	missing, err := store.FindWebhookByPath(ctx, "no/such/path")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for unknown path, got %v %v", missing, err)
	}
}

func TestDecideApprovalGuards(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	approval := &models.NodeApproval{
		ID: uuid.NewString(), ExecutionID: "e1", Command: "rm -rf /tmp/x",
		RiskLevel: models.RiskHigh, Status: models.ApprovalPending,
		ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	if err := store.CreateApproval(ctx, approval); err != nil {
		t.Fatalf("CreateApproval: %v", err)
	}

	pending, err := store.ListPendingApprovals(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("ListPendingApprovals: %v %v", pending, err)
	}

	ok, err := store.DecideApproval(ctx, approval.ID, models.ApprovalApproved, "root", now)
	if err != nil || !ok {
		t.Fatalf("DecideApproval = %v, %v", ok, err)
	}
	ok, err = store.DecideApproval(ctx, approval.ID, models.ApprovalRejected, "root", now)
	if err != nil {
		t.Fatalf("second DecideApproval: %v", err)
	}
	if ok {
		t.Fatal("decided approval must not flip twice")
	}

	expired := &models.NodeApproval{
		ID: uuid.NewString(), ExecutionID: "e2", Command: "ls",
		RiskLevel: models.RiskLow, Status: models.ApprovalPending,
		ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-2 * time.Hour),
	}
	if err := store.CreateApproval(ctx, expired); err != nil {
		t.Fatalf("CreateApproval expired: %v", err)
	}
	ok, err = store.DecideApproval(ctx, expired.ID, models.ApprovalApproved, "root", now)
	if err != nil {
		t.Fatalf("DecideApproval expired: %v", err)
	}
	if ok {
		t.Fatal("expired approval must not be approvable")
	}
	n, err := store.ExpireApprovals(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("ExpireApprovals = %d, %v", n, err)
	}
}

func TestExecutionRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	exec := &models.NodeExecution{
		ID: uuid.NewString(), NodeID: "node-1", Command: "uptime",
		Params:  map[string]any{"args": []any{"-p"}},
		EnvVars: map[string]string{"TZ": "UTC"},
		Status:  models.ExecutionPendingApproval, RequiresApproval: true,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := store.CreateExecution(ctx, exec); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	got, err := store.GetExecution(ctx, exec.ID)
	if err != nil {
		t.Fatalf("GetExecution: %v", err)
	}
	if got.EnvVars["TZ"] != "UTC" || got.Status != models.ExecutionPendingApproval {
		t.Fatalf("unexpected execution %+v", got)
	}
	if got.ExitCode != nil || got.ApprovedAt != nil {
		t.Fatal("nullable fields should round trip as nil")
	}

	code := 0
	decided := now.Add(time.Minute)
	got.Status = models.ExecutionCompleted
	got.ExitCode = &code
	got.ApprovedBy = "root"
	got.ApprovedAt = &decided
	got.Stdout = "up 3 days"
	got.UpdatedAt = decided
	if err := store.UpdateExecution(ctx, got); err != nil {
		t.Fatalf("UpdateExecution: %v", err)
	}

	completed, err := store.ListExecutions(ctx, models.ExecutionCompleted, 10)
	if err != nil || len(completed) != 1 {
		t.Fatalf("ListExecutions: %v %v", completed, err)
	}
	if completed[0].ExitCode == nil || *completed[0].ExitCode != 0 {
		t.Fatalf("exit code lost: %v", completed[0].ExitCode)
	}
	if completed[0].ApprovedAt == nil {
		t.Fatal("approved_at lost")
	}
}

func TestMemorySearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entries := []string{
		"the staging database lives on host db-stg-2",
		"alice prefers terse answers",
		"production deploys happen on tuesdays",
	}
	for _, content := range entries {
		entry := &models.MemoryEntry{
			ID: uuid.NewString(), AgentID: "a1", Content: content,
			Tags: []string{"ops"},
		}
		if err := store.StoreMemory(ctx, entry); err != nil {
			t.Fatalf("StoreMemory: %v", err)
		}
	}

	hits, err := store.SearchMemories(ctx, "a1", "deploys", 10)
	if err != nil {
		t.Fatalf("SearchMemories: %v", err)
	}
	if len(hits) != 1 || hits[0].Content != entries[2] {
		t.Fatalf("unexpected hits %+v", hits)
	}
	if len(hits[0].Tags) != 1 || hits[0].Tags[0] != "ops" {
		t.Fatalf("tags lost: %v", hits[0].Tags)
	}

	none, err := store.SearchMemories(ctx, "other-agent", "deploys", 10)
	if err != nil || len(none) != 0 {
		t.Fatalf("agent scoping broken: %v %v", none, err)
	}

	if err := store.ForgetMemory(ctx, "a1", hits[0].ID); err != nil {
		t.Fatalf("ForgetMemory: %v", err)
	}
	if _, err := store.GetMemory(ctx, "a1", hits[0].ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after forget, got %v", err)
	}
}

func TestKnowledgeBaseAgentAttachment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	kb := &models.KnowledgeBase{
		ID: uuid.NewString(), OrgID: "org-1", Name: "runbooks",
		AgentIDs: []string{"a1", "a2"}, Active: true, CreatedAt: time.Now(),
	}
	other := &models.KnowledgeBase{
		ID: uuid.NewString(), OrgID: "org-1", Name: "sales",
		AgentIDs: []string{"a9"}, Active: true, CreatedAt: time.Now(),
	}
	for _, k := range []*models.KnowledgeBase{kb, other} {
		if err := store.CreateKnowledgeBase(ctx, k); err != nil {
			t.Fatalf("CreateKnowledgeBase: %v", err)
		}
	}

	attached, err := store.ListKnowledgeBasesForAgent(ctx, "a1")
	if err != nil {
		t.Fatalf("ListKnowledgeBasesForAgent: %v", err)
	}
	if len(attached) != 1 || attached[0].Name != "runbooks" {
		t.Fatalf("unexpected attachment %+v", attached)
	}

	doc := &models.Document{
		ID: uuid.NewString(), KnowledgeBaseID: kb.ID, Filename: "db.md",
		Status: models.DocumentPending, CreatedAt: time.Now(),
	}
	if err := store.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	chunks := []models.DocumentChunk{
		{ID: uuid.NewString(), DocumentID: doc.ID, KnowledgeBaseID: kb.ID, ChunkIndex: 0, Content: "postgres tuning", Filename: "db.md"},
		{ID: uuid.NewString(), DocumentID: doc.ID, KnowledgeBaseID: kb.ID, ChunkIndex: 1, Content: "vacuum schedule", Filename: "db.md", Embedding: []float64{0.1, 0.9}},
	}
	if err := store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatalf("ReplaceChunks: %v", err)
	}
	if err := store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentIndexed, "", len(chunks)); err != nil {
		t.Fatalf("UpdateDocumentStatus: %v", err)
	}

	stored, err := store.ListChunks(ctx, kb.ID, 0)
	if err != nil || len(stored) != 2 {
		t.Fatalf("ListChunks: %v %v", stored, err)
	}
	if stored[1].Embedding == nil || stored[1].Embedding[1] != 0.9 {
		t.Fatalf("embedding lost: %v", stored[1].Embedding)
	}

	// Reindex replaces, never appends.
	if err := store.ReplaceChunks(ctx, doc.ID, chunks[:1]); err != nil {
		t.Fatalf("second ReplaceChunks: %v", err)
	}
	stored, _ = store.ListChunks(ctx, kb.ID, 0)
	if len(stored) != 1 {
		t.Fatalf("expected replacement to drop stale chunks, got %d", len(stored))
	}

	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	stored, _ = store.ListChunks(ctx, kb.ID, 0)
	if len(stored) != 0 {
		t.Fatal("document delete should cascade to chunks")
	}
}
