package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/debtkeeper/internal/blob"
	"github.com/dmitrijs2005/debtkeeper/internal/common"
	"github.com/dmitrijs2005/debtkeeper/internal/dbx"
	"github.com/dmitrijs2005/debtkeeper/internal/logging"
	"github.com/dmitrijs2005/debtkeeper/internal/server/config"
	"github.com/dmitrijs2005/debtkeeper/internal/server/models"
	"github.com/dmitrijs2005/debtkeeper/internal/server/notify"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/debts"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/links"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/debtkeeper/internal/server/repositories/videos"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memDB is an in-memory stand-in for the database with the same
// compare-and-set semantics as the SQL repositories. Transactions are
// serialized and rolled back by snapshot.
type memDB struct {
	mu     sync.Mutex
	txMu   sync.Mutex
	users  map[string]models.User
	debts  map[string]models.Debt
	videos map[string]models.VideoEvidence
	links  []models.EvidenceLink

	markEncryptedErr   error
	linkCreateErr      error
	reloadEncryptedErr error
}

type memSnapshot struct {
	debts  map[string]models.Debt
	videos map[string]models.VideoEvidence
	links  []models.EvidenceLink
}

func newMemDB() *memDB {
	return &memDB{
		users:  map[string]models.User{},
		debts:  map[string]models.Debt{},
		videos: map[string]models.VideoEvidence{},
	}
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		debts:  make(map[string]models.Debt, len(m.debts)),
		videos: make(map[string]models.VideoEvidence, len(m.videos)),
		links:  append([]models.EvidenceLink(nil), m.links...),
	}
	for k, v := range m.debts {
		s.debts[k] = v
	}
	for k, v := range m.videos {
		s.videos[k] = v
	}
	return s
}

func (m *memDB) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debts, m.videos, m.links = s.debts, s.videos, s.links
}

func (m *memDB) withTx(ctx context.Context, _ *sql.DB, _ *sql.TxOptions, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.snapshot()
	if err := fn(ctx, nil); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

func (m *memDB) debt(t *testing.T, id string) models.Debt {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.debts[id]
	require.True(t, ok, "debt %s", id)
	return d
}

func (m *memDB) video(t *testing.T, id string) models.VideoEvidence {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.videos[id]
	require.True(t, ok, "video %s", id)
	return v
}

// --- users ---

type memUsers struct{ m *memDB }

func (r memUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.users[u.ID] = *u
	return u, nil
}

func (r memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

func (r memUsers) FindByRef(_ context.Context, ref string) (*models.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	ref = strings.TrimSpace(ref)
	for _, u := range r.m.users {
		if u.ID == ref || u.UserName == ref || strings.EqualFold(u.Email, ref) {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

// --- debts ---

type memDebts struct{ m *memDB }

func (r memDebts) Create(_ context.Context, d *models.Debt) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.debts[d.ID] = *d
	return nil
}

func (r memDebts) GetByID(_ context.Context, id string) (*models.Debt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.debts[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &d, nil
}

func (r memDebts) ListByParticipant(_ context.Context, userID string) ([]*models.Debt, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Debt
	for _, d := range r.m.debts {
		if d.IsParty(userID) {
			d := d
			out = append(out, &d)
		}
	}
	return out, nil
}

func (r memDebts) CompareAndSetStatus(_ context.Context, id string, from, to models.DebtStatus, at time.Time) error {
	if !from.CanMoveTo(to) {
		return fmt.Errorf("%w: %s -> %s", common.ErrorInvalidState, from, to)
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.debts[id]
	if !ok || d.Status != from {
		return common.ErrorInvalidState
	}
	d.Status, d.UpdatedAt = to, at
	switch {
	case to == models.DebtAcceptedPendingVideoUpload:
		d.BorrowerApprovalAt = &at
	case to == models.DebtPaid:
		d.PaidAt = &at
	case from == models.DebtPendingOperatorApproval && to == models.DebtActive:
		d.OperatorApprovalAt = &at
	}
	r.m.debts[id] = d
	return nil
}

// --- videos ---

type memVideos struct{ m *memDB }

func (r memVideos) Create(_ context.Context, v *models.VideoEvidence) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.videos[v.ID] = *v
	return nil
}

func (r memVideos) GetByID(_ context.Context, id string) (*models.VideoEvidence, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.videos[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if r.m.reloadEncryptedErr != nil && v.Status == models.VideoEncrypted {
		return nil, r.m.reloadEncryptedErr
	}
	return &v, nil
}

func (r memVideos) MarkUploadFinalized(_ context.Context, id, stagedPath string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.videos[id]
	if !ok || v.UploadFinalized {
		return common.ErrorInvalidState
	}
	v.StagedPath, v.UploadFinalized, v.UpdatedAt = &stagedPath, true, at
	r.m.videos[id] = v
	return nil
}

func (r memVideos) CompareAndSetStatus(_ context.Context, id string, from, to models.VideoStatus, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.videos[id]
	if !ok || v.Status != from {
		return common.ErrorInvalidState
	}
	v.Status, v.UpdatedAt = to, at
	r.m.videos[id] = v
	return nil
}

func (r memVideos) MarkEncrypted(_ context.Context, id string, mat models.EncryptionMaterial, at time.Time) error {
	if r.m.markEncryptedErr != nil {
		return r.m.markEncryptedErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.videos[id]
	if !ok || v.Status != models.VideoProcessingEncryption {
		return common.ErrorInvalidState
	}
	v.Status = models.VideoEncrypted
	v.EncryptedPath, v.KeyHash, v.Salt, v.IV = &mat.EncryptedPath, &mat.KeyHash, &mat.Salt, &mat.IV
	v.StagedPath = nil
	v.UpdatedAt = at
	r.m.videos[id] = v
	return nil
}

// --- links ---

type memLinks struct{ m *memDB }

func (r memLinks) Create(_ context.Context, l *models.EvidenceLink) error {
	if r.m.linkCreateErr != nil {
		return r.m.linkCreateErr
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, x := range r.m.links {
		if x.DebtID == l.DebtID && x.Status.Live() {
			return common.ErrorInvalidState
		}
	}
	r.m.links = append(r.m.links, *l)
	return nil
}

func (r memLinks) GetByVideoID(_ context.Context, videoID string) (*models.EvidenceLink, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, l := range r.m.links {
		if l.VideoID == videoID {
			return &l, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r memLinks) ListByDebtID(_ context.Context, debtID string) ([]*models.EvidenceLink, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.EvidenceLink
	for _, l := range r.m.links {
		if l.DebtID == debtID {
			l := l
			out = append(out, &l)
		}
	}
	return out, nil
}

func (r memLinks) SetStatus(_ context.Context, videoID string, status models.VideoStatus, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for i := range r.m.links {
		if r.m.links[i].VideoID == videoID {
			r.m.links[i].Status, r.m.links[i].UpdatedAt = status, at
			return nil
		}
	}
	return common.ErrorNotFound
}

type memManager struct{ m *memDB }

func (f memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (f memManager) Users(dbx.DBTX) users.Repository             { return memUsers(f) }
func (f memManager) Debts(dbx.DBTX) debts.Repository             { return memDebts(f) }
func (f memManager) Videos(dbx.DBTX) videos.Repository           { return memVideos(f) }
func (f memManager) Links(dbx.DBTX) links.Repository             { return memLinks(f) }

// --- collaborators ---

type fakeNotifier struct {
	mu         sync.Mutex
	deliveries []notify.KeyDelivery
	err        error
}

func (n *fakeNotifier) SendKey(_ context.Context, d notify.KeyDelivery) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.deliveries = append(n.deliveries, d)
	return nil
}

func (n *fakeNotifier) sent() []notify.KeyDelivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.KeyDelivery(nil), n.deliveries...)
}

type logRecord struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu      sync.Mutex
	records []logRecord
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, logRecord{level, msg, args})
}

func (l *recordingLogger) Debug(_ context.Context, msg string, args ...any) { l.add("debug", msg, args) }
func (l *recordingLogger) Info(_ context.Context, msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordingLogger) Warn(_ context.Context, msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordingLogger) Error(_ context.Context, msg string, args ...any) { l.add("error", msg, args) }
func (l *recordingLogger) With(...any) logging.Logger                       { return l }

// find returns the first record at level whose args contain key=value.
func (l *recordingLogger) find(level, key string, value any) (logRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.level != level {
			continue
		}
		for i := 0; i+1 < len(r.args); i += 2 {
			if r.args[i] == key && r.args[i+1] == value {
				return r, true
			}
		}
	}
	return logRecord{}, false
}

// faultyStore fails selected operations of an underlying store.
type faultyStore struct {
	blob.Store
	moveErr func(src, dst string) error
}

func (f *faultyStore) Move(ctx context.Context, src, dst string) error {
	if f.moveErr != nil {
		if err := f.moveErr(src, dst); err != nil {
			return err
		}
	}
	return f.Store.Move(ctx, src, dst)
}

// --- environment ---

const (
	lenderID   = "lender"
	borrowerID = "borrower"
	approverID = "approver"
	operatorID = "operator"
	auditorID  = "auditor"
	strangerID = "stranger"
)

type testEnv struct {
	db       *memDB
	root     string
	blobs    *faultyStore
	logs     *recordingLogger
	notifier *fakeNotifier
	cfg      *config.Config
	debts    *DebtService
	evidence *EvidenceService

	clockMu sync.Mutex
	clock   time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	local, err := blob.NewLocalStore(root)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.MaxUploadBytes = 1 << 20

	e := &testEnv{
		db:       newMemDB(),
		root:     root,
		blobs:    &faultyStore{Store: local},
		logs:     &recordingLogger{},
		notifier: &fakeNotifier{},
		cfg:      cfg,
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	seed := []struct {
		id   string
		caps []models.Capability
	}{
		{lenderID, []models.Capability{models.CapabilityDebts}},
		{borrowerID, []models.Capability{models.CapabilityDebts}},
		{approverID, []models.Capability{models.CapabilityVideoApproval}},
		{operatorID, []models.Capability{models.CapabilityDebtOperator}},
		{auditorID, []models.Capability{models.CapabilityEvidenceAudit}},
		{strangerID, nil},
	}
	for _, s := range seed {
		caps := map[models.Capability]bool{}
		for _, c := range s.caps {
			caps[c] = true
		}
		e.db.users[s.id] = models.User{ID: s.id, UserName: s.id, Email: s.id + "@example.com", Capabilities: caps}
	}

	rm := memManager{e.db}
	e.debts = NewDebtService(nil, rm, logging.Nop{})
	e.debts.now = e.now
	e.evidence = NewEvidenceService(nil, rm, e.blobs, e.notifier, cfg, e.logs)
	e.evidence.now = e.now
	e.evidence.withTx = e.db.withTx
	return e
}

func (e *testEnv) now() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	return e.clock
}

func (e *testEnv) advance(d time.Duration) {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	e.clock = e.clock.Add(d)
}

func (e *testEnv) offer(t *testing.T) *models.Debt {
	t.Helper()
	d, err := e.debts.CreateOffer(context.Background(), lenderID, OfferInput{
		BorrowerRef:  borrowerID,
		Amount:       decimal.NewFromInt(500),
		CurrencyCode: "eur",
		DueDateUTC:   e.now().AddDate(0, 0, 10),
		Description:  "deposit",
	})
	require.NoError(t, err)
	return d
}

func (e *testEnv) acceptedDebt(t *testing.T) *models.Debt {
	t.Helper()
	d, err := e.debts.RespondToOffer(context.Background(), e.offer(t).ID, borrowerID, true)
	require.NoError(t, err)
	return d
}

func (e *testEnv) upload(t *testing.T, debtID string, content []byte) *models.VideoEvidence {
	t.Helper()
	v, err := e.evidence.Upload(context.Background(), UploadInput{
		DebtID:      debtID,
		UploaderID:  borrowerID,
		FileName:    "proof.mp4",
		ContentType: "video/mp4",
		Body:        strings.NewReader(string(content)),
	})
	require.NoError(t, err)
	return v
}

func (e *testEnv) readBlob(t *testing.T, key string) []byte {
	t.Helper()
	rc, err := e.blobs.Open(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

// files lists every regular file under dir, relative to the store root.
func (e *testEnv) files(t *testing.T, dir string) []string {
	t.Helper()
	var out []string
	base := filepath.Join(e.root, filepath.FromSlash(dir))
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == base && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return err
		}
		if d.Type().IsRegular() {
			rel, _ := filepath.Rel(e.root, p)
			out = append(out, filepath.ToSlash(rel))
		}
		return nil
	})
	require.NoError(t, err)
	return out
}

func (e *testEnv) blobExists(key string) bool {
	rc, err := e.blobs.Open(context.Background(), key)
	if err != nil {
		return false
	}
	_ = rc.Close()
	return true
}
