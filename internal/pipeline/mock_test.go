package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/castmatch/outreach-cli/internal/aigen"
	"github.com/castmatch/outreach-cli/internal/journal"
	"github.com/castmatch/outreach-cli/internal/model"
	"github.com/castmatch/outreach-cli/internal/store"
	"github.com/castmatch/outreach-cli/pkg/notion"
)

// Shared hand-written mocks for the pipeline runners. Runners fan claims out
// over worker pools, so every recording mock locks around its state.

type released struct {
	claim   store.Claim
	stage   model.Stage
	outcome store.Outcome
}

type mockLocker struct {
	mu sync.Mutex

	claims        []store.Claim
	claimErr      error
	releaseErr    error
	releaseErrFor map[int64]error
	staleCount    int64
	staleErr      error

	claimedStage model.Stage
	claimedBatch int
	released     []released
	staleStages  []model.Stage
}

func (m *mockLocker) TryClaim(_ context.Context, stage model.Stage, batchSize int) ([]store.Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimedStage = stage
	m.claimedBatch = batchSize
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	return m.claims, nil
}

func (m *mockLocker) Release(_ context.Context, claim store.Claim, stage model.Stage, outcome store.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.releaseErrFor[claim.RecordID]; ok {
		return err
	}
	if m.releaseErr != nil {
		return m.releaseErr
	}
	m.released = append(m.released, released{claim: claim, stage: stage, outcome: outcome})
	return nil
}

func (m *mockLocker) CleanupStale(_ context.Context, stage model.Stage) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.staleStages = append(m.staleStages, stage)
	if m.staleErr != nil {
		return 0, m.staleErr
	}
	return m.staleCount, nil
}

// releasedFor returns the recorded release for one record id.
func (m *mockLocker) releasedFor(recordID int64) (released, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.released {
		if r.claim.RecordID == recordID {
			return r, true
		}
	}
	return released{}, false
}

type mockEnricher struct {
	mu     sync.Mutex
	errFor map[string]error
	calls  []string
}

func (m *mockEnricher) EnrichMedia(_ context.Context, mediaID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mediaID)
	return m.errFor[mediaID]
}

type mockDescriber struct {
	mu      sync.Mutex
	descFor map[string]string
	errFor  map[string]error
	calls   []string
}

func (m *mockDescriber) GenerateDescription(_ context.Context, media *model.Media) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, media.ID)
	if err := m.errFor[media.ID]; err != nil {
		return "", err
	}
	return m.descFor[media.ID], nil
}

type mockScorer struct {
	mu         sync.Mutex
	primeErr   error
	verdictFor map[string]*aigen.Verdict
	scoreErr   map[string]error

	primed []model.Criteria
	scored []string
}

func (m *mockScorer) PrimeCriteria(_ context.Context, criteria model.Criteria) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.primed = append(m.primed, criteria)
	return m.primeErr
}

func (m *mockScorer) ScoreCandidate(_ context.Context, _ model.Criteria, profile model.MediaProfile) (*aigen.Verdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scored = append(m.scored, profile.MediaID)
	if err := m.scoreErr[profile.MediaID]; err != nil {
		return nil, err
	}
	if v, ok := m.verdictFor[profile.MediaID]; ok {
		return v, nil
	}
	return &aigen.Verdict{Score: 50, Reasoning: "default"}, nil
}

type mockVetStore struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign
	media     map[string]*model.Media
	campErr   error
	mediaErr  map[string]error
}

func (m *mockVetStore) GetCampaign(_ context.Context, id string) (*model.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.campErr != nil {
		return nil, m.campErr
	}
	return m.campaigns[id], nil
}

func (m *mockVetStore) GetMedia(_ context.Context, id string) (*model.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.mediaErr[id]; err != nil {
		return nil, err
	}
	return m.media[id], nil
}

type mockMatchCreator struct {
	mu     sync.Mutex
	errFor map[int64]error
	calls  []int64
}

func (m *mockMatchCreator) Create(_ context.Context, discoveryID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, discoveryID)
	return m.errFor[discoveryID]
}

type mockDescriptionStore struct {
	mu       sync.Mutex
	media    []model.Media
	claimErr error
	writeErr map[string]error

	claimedBatch    int
	claimedAttempts int
	claimedRetry    time.Duration
	written         map[string]string
}

func (m *mockDescriptionStore) ClaimDescriptionBatch(_ context.Context, batchSize, maxAttempts int, retryAfter time.Duration) ([]model.Media, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimedBatch = batchSize
	m.claimedAttempts = maxAttempts
	m.claimedRetry = retryAfter
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	return m.media, nil
}

func (m *mockDescriptionStore) SetMediaDescription(_ context.Context, mediaID, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeErr[mediaID]; err != nil {
		return err
	}
	if m.written == nil {
		m.written = make(map[string]string)
	}
	m.written[mediaID] = description
	return nil
}

type mockMatchStore struct {
	match     *model.MatchSuggestion
	task      *model.ReviewTask
	createErr error

	card    *store.MatchCardContext
	cardErr error
	pageErr error

	createCalls []int64
	cardCalls   []string
	pages       map[string]string
}

func (m *mockMatchStore) CreateMatch(_ context.Context, discoveryID int64, _ int) (*model.MatchSuggestion, *model.ReviewTask, error) {
	m.createCalls = append(m.createCalls, discoveryID)
	if m.createErr != nil {
		return nil, nil, m.createErr
	}
	return m.match, m.task, nil
}

func (m *mockMatchStore) MatchCardContextByTask(_ context.Context, taskID string) (*store.MatchCardContext, error) {
	m.cardCalls = append(m.cardCalls, taskID)
	if m.cardErr != nil {
		return nil, m.cardErr
	}
	return m.card, nil
}

func (m *mockMatchStore) SetReviewTaskNotionPage(_ context.Context, taskID, pageID string) error {
	if m.pageErr != nil {
		return m.pageErr
	}
	if m.pages == nil {
		m.pages = make(map[string]string)
	}
	m.pages[taskID] = pageID
	return nil
}

type mockLimitedStore struct {
	ids     []int64
	listErr error

	gotCampaign  string
	gotThreshold int
	gotLimit     int
}

func (m *mockLimitedStore) LimitedCandidates(_ context.Context, campaignID string, defaultThreshold, limit int) ([]int64, error) {
	m.gotCampaign = campaignID
	m.gotThreshold = defaultThreshold
	m.gotLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.ids, nil
}

type mockReconcileStore struct {
	advanced    int64
	advanceErr  error
	cooled      map[model.Stage]int64
	cooledErr   error
	missing     []model.Media
	missingErr  error
	qualityErr  map[string]error
	tasks       []store.MatchCardContext
	tasksErr    error
	pageErr     map[string]error
	statusFound map[string]bool
	statusErr   map[string]error

	cooledBefore map[model.Stage]time.Time
	qualitySet   map[string]float64
	pagesSet     map[string]string
	statusSet    map[string]model.ReviewTaskStatus
}

func (m *mockReconcileStore) AdvanceEnrichedPending(_ context.Context) (int64, error) {
	return m.advanced, m.advanceErr
}

func (m *mockReconcileStore) ResetCooledFailures(_ context.Context, stage model.Stage, cooledBefore time.Time) (int64, error) {
	if m.cooledBefore == nil {
		m.cooledBefore = make(map[model.Stage]time.Time)
	}
	m.cooledBefore[stage] = cooledBefore
	if m.cooledErr != nil {
		return 0, m.cooledErr
	}
	return m.cooled[stage], nil
}

func (m *mockReconcileStore) MediaMissingQuality(_ context.Context, _ int) ([]model.Media, error) {
	if m.missingErr != nil {
		return nil, m.missingErr
	}
	return m.missing, nil
}

func (m *mockReconcileStore) SetMediaQuality(_ context.Context, mediaID string, score float64, _ bool) error {
	if err := m.qualityErr[mediaID]; err != nil {
		return err
	}
	if m.qualitySet == nil {
		m.qualitySet = make(map[string]float64)
	}
	m.qualitySet[mediaID] = score
	return nil
}

func (m *mockReconcileStore) ReviewTasksWithoutPage(_ context.Context, _ int) ([]store.MatchCardContext, error) {
	if m.tasksErr != nil {
		return nil, m.tasksErr
	}
	return m.tasks, nil
}

func (m *mockReconcileStore) SetReviewTaskNotionPage(_ context.Context, taskID, pageID string) error {
	if err := m.pageErr[taskID]; err != nil {
		return err
	}
	if m.pagesSet == nil {
		m.pagesSet = make(map[string]string)
	}
	m.pagesSet[taskID] = pageID
	return nil
}

func (m *mockReconcileStore) SetReviewStatusByNotionPage(_ context.Context, pageID string, status model.ReviewTaskStatus) (bool, error) {
	if err := m.statusErr[pageID]; err != nil {
		return false, err
	}
	if m.statusSet == nil {
		m.statusSet = make(map[string]model.ReviewTaskStatus)
	}
	m.statusSet[pageID] = status
	if m.statusFound == nil {
		return true, nil
	}
	return m.statusFound[pageID], nil
}

type mockBoard struct {
	pageFor   map[string]string
	postErr   map[string]error
	decisions []notion.Decision
	pullErr   error
	syncErr   map[string]error

	posted []string
	synced []string
}

func (m *mockBoard) PostCard(_ context.Context, mc store.MatchCardContext) (string, error) {
	m.posted = append(m.posted, mc.TaskID)
	if err := m.postErr[mc.TaskID]; err != nil {
		return "", err
	}
	if page, ok := m.pageFor[mc.TaskID]; ok {
		return page, nil
	}
	return "page-" + mc.TaskID, nil
}

func (m *mockBoard) PullDecisions(_ context.Context) ([]notion.Decision, error) {
	if m.pullErr != nil {
		return nil, m.pullErr
	}
	return m.decisions, nil
}

func (m *mockBoard) MarkSynced(_ context.Context, pageID string) error {
	if err := m.syncErr[pageID]; err != nil {
		return err
	}
	m.synced = append(m.synced, pageID)
	return nil
}

// memJournal records runs in memory for scheduler tests.
type memJournal struct {
	mu       sync.Mutex
	nextID   int64
	startErr error
	entries  map[int64]*journal.Entry
	pruned   []time.Time
}

func newMemJournal() *memJournal {
	return &memJournal{entries: make(map[int64]*journal.Entry)}
}

func (j *memJournal) Start(_ context.Context, task string) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.startErr != nil {
		return 0, j.startErr
	}
	j.nextID++
	j.entries[j.nextID] = &journal.Entry{
		ID:        j.nextID,
		Task:      task,
		Status:    journal.StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	return j.nextID, nil
}

func (j *memJournal) Finish(_ context.Context, entryID int64, result journal.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[entryID]
	if !ok {
		return nil
	}
	now := time.Now().UTC()
	e.CompletedAt = &now
	e.Processed = result.Processed
	e.Failed = result.Failed
	if result.Err != nil {
		e.Status = journal.StatusFailed
		e.Error = result.Err.Error()
	} else {
		e.Status = journal.StatusCompleted
	}
	return nil
}

func (j *memJournal) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]journal.Entry, 0, len(j.entries))
	for id := j.nextID; id > 0 && len(out) < limit; id-- {
		if e, ok := j.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (j *memJournal) LastPerTask(_ context.Context) (map[string]journal.Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[string]journal.Entry, len(j.entries))
	for id := int64(1); id <= j.nextID; id++ {
		if e, ok := j.entries[id]; ok {
			out[e.Task] = *e
		}
	}
	return out, nil
}

func (j *memJournal) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pruned = append(j.pruned, cutoff)
	return 0, nil
}

func (j *memJournal) Close() error { return nil }

func (j *memJournal) entry(id int64) journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	if e, ok := j.entries[id]; ok {
		return *e
	}
	return journal.Entry{}
}

func ptrInt(v int) *int { return &v }

func ptrInt64(v int64) *int64 { return &v }

func ptrFloat64(v float64) *float64 { return &v }
