package payments

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carboncube/tierpay/app/models"
	"github.com/carboncube/tierpay/internal/pkg/mpesa"
	"github.com/carboncube/tierpay/internal/pkg/tiers"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// fakeState mirrors the tables the service touches. Rows are stored by value
// so a snapshot is a shallow copy of the maps.
type fakeState struct {
	seq           uint
	sellers       map[uint]models.Seller
	sellerTiers   map[uint]models.SellerTier
	tiers         []models.Tier
	txs           map[uint]models.PaymentTransaction
	payments      map[uint]models.Payment
	notifications map[uint]models.Notification
	events        map[uint]models.GatewayEvent
}

func (s *fakeState) clone() fakeState {
	out := fakeState{
		seq:           s.seq,
		sellers:       make(map[uint]models.Seller, len(s.sellers)),
		sellerTiers:   make(map[uint]models.SellerTier, len(s.sellerTiers)),
		tiers:         s.tiers,
		txs:           make(map[uint]models.PaymentTransaction, len(s.txs)),
		payments:      make(map[uint]models.Payment, len(s.payments)),
		notifications: make(map[uint]models.Notification, len(s.notifications)),
		events:        make(map[uint]models.GatewayEvent, len(s.events)),
	}
	for k, v := range s.sellers {
		out.sellers[k] = v
	}
	for k, v := range s.sellerTiers {
		out.sellerTiers[k] = v
	}
	for k, v := range s.txs {
		out.txs[k] = v
	}
	for k, v := range s.payments {
		out.payments[k] = v
	}
	for k, v := range s.notifications {
		out.notifications[k] = v
	}
	for k, v := range s.events {
		out.events[k] = v
	}
	return out
}

func (s *fakeState) nextID() uint {
	s.seq++
	return s.seq
}

// fakeDB is an in-memory stand-in for MySQL. Top-level transactions are
// serialised, nested ones act as savepoints, and the unique indexes of the
// real schema are enforced with gorm.ErrDuplicatedKey.
type fakeDB struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	state fakeState

	failUpsert       error
	failNotification error
}

func newFakeDB() *fakeDB {
	return &fakeDB{state: fakeState{
		sellers:       map[uint]models.Seller{},
		sellerTiers:   map[uint]models.SellerTier{},
		txs:           map[uint]models.PaymentTransaction{},
		payments:      map[uint]models.Payment{},
		notifications: map[uint]models.Notification{},
		events:        map[uint]models.GatewayEvent{},
		seq:           1000,
	}}
}

type fakeRepo struct {
	db     *fakeDB
	nested bool
}

func (r *fakeRepo) Transaction(ctx context.Context, fn func(Repository) error) error {
	if !r.nested {
		r.db.txMu.Lock()
		defer r.db.txMu.Unlock()
	}
	r.db.mu.Lock()
	snap := r.db.state.clone()
	r.db.mu.Unlock()

	if err := fn(&fakeRepo{db: r.db, nested: true}); err != nil {
		r.db.mu.Lock()
		r.db.state = snap
		r.db.mu.Unlock()
		return err
	}
	return nil
}

func (r *fakeRepo) GetSeller(_ context.Context, id uint) (*models.Seller, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.state.sellers[id]
	if !ok || s.Deleted {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (r *fakeRepo) LockSeller(_ context.Context, id uint) (*models.Seller, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	s, ok := r.db.state.sellers[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &s, nil
}

func (r *fakeRepo) FindSellerByAccount(_ context.Context, account string) (*models.Seller, error) {
	account = strings.TrimSpace(account)
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var found *models.Seller
	for _, s := range r.db.state.sellers {
		if s.Deleted || account == "" {
			continue
		}
		if s.PhoneNumber == account || s.BusinessRegistrationNumber == account {
			if found == nil || s.ID < found.ID {
				c := s
				found = &c
			}
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (r *fakeRepo) GetSellerTier(_ context.Context, sellerID uint) (*models.SellerTier, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	st, ok := r.db.state.sellerTiers[sellerID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (r *fakeRepo) UpsertSellerTier(_ context.Context, st *models.SellerTier) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failUpsert != nil {
		return r.db.failUpsert
	}
	existing, ok := r.db.state.sellerTiers[st.SellerID]
	if ok {
		st.ID = existing.ID
		st.CreatedAt = existing.CreatedAt
	} else {
		st.ID = r.db.state.nextID()
		st.CreatedAt = time.Now()
	}
	st.UpdatedAt = time.Now()
	r.db.state.sellerTiers[st.SellerID] = *st
	return nil
}

func (r *fakeRepo) ListTiersWithPricings(context.Context) ([]models.Tier, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return r.db.state.tiers, nil
}

func (r *fakeRepo) CreateTransaction(_ context.Context, tx *models.PaymentTransaction) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if err := r.checkUnique(tx); err != nil {
		return err
	}
	tx.ID = r.db.state.nextID()
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	tx.UpdatedAt = tx.CreatedAt
	r.db.state.txs[tx.ID] = *tx
	return nil
}

func sameKey(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (r *fakeRepo) checkUnique(tx *models.PaymentTransaction) error {
	for id, other := range r.db.state.txs {
		if id == tx.ID {
			continue
		}
		if sameKey(tx.CheckoutRequestID, other.CheckoutRequestID) ||
			sameKey(tx.MerchantRequestID, other.MerchantRequestID) ||
			sameKey(tx.ActiveKey, other.ActiveKey) ||
			sameKey(tx.CompletedReceipt, other.CompletedReceipt) {
			return gorm.ErrDuplicatedKey
		}
	}
	return nil
}

func (r *fakeRepo) GetTransaction(_ context.Context, id uint) (*models.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx, ok := r.db.state.txs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &tx, nil
}

func (r *fakeRepo) GetTransactionByCheckoutID(_ context.Context, checkoutRequestID string) (*models.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, tx := range r.db.state.txs {
		if tx.CheckoutID() == checkoutRequestID {
			return &tx, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeRepo) sortedTxs(keep func(models.PaymentTransaction) bool) []models.PaymentTransaction {
	var rows []models.PaymentTransaction
	for _, tx := range r.db.state.txs {
		if keep(tx) {
			rows = append(rows, tx)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func isOpen(status string) bool {
	for _, s := range openStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (r *fakeRepo) FindOpenTransaction(_ context.Context, sellerID, tierID uint) (*models.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rows := r.sortedTxs(func(tx models.PaymentTransaction) bool {
		return tx.SellerID == sellerID && tx.TierID == tierID && isOpen(tx.Status)
	})
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[len(rows)-1], nil
}

func (r *fakeRepo) FindRecentFailure(_ context.Context, sellerID, tierID uint, since time.Time) (*models.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rows := r.sortedTxs(func(tx models.PaymentTransaction) bool {
		return tx.SellerID == sellerID && tx.TierID == tierID && tx.Status == models.PaymentStatusFailed &&
			tx.FailedAt != nil && !tx.FailedAt.Before(since)
	})
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[len(rows)-1], nil
}

func (r *fakeRepo) ListTransactions(_ context.Context, sellerID uint, limit int) ([]models.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rows := r.sortedTxs(func(tx models.PaymentTransaction) bool { return tx.SellerID == sellerID })
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *fakeRepo) ListStaleTransactions(_ context.Context, sellerID uint, statuses []string, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rows := r.sortedTxs(func(tx models.PaymentTransaction) bool {
		return slices.Contains(statuses, tx.Status) && tx.CreatedAt.Before(createdBefore) && (sellerID == 0 || tx.SellerID == sellerID)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *fakeRepo) ListUnsettledPushes(_ context.Context, createdBefore time.Time, limit int) ([]models.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rows := r.sortedTxs(func(tx models.PaymentTransaction) bool {
		return (tx.Status == models.PaymentStatusPending || tx.Status == models.PaymentStatusProcessing) &&
			tx.TransactionType == models.PaymentTypeSTKPush && tx.CheckoutRequestID != nil && tx.CreatedAt.Before(createdBefore)
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *fakeRepo) ListActivationFailures(_ context.Context, limit int) ([]models.PaymentTransaction, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	rows := r.sortedTxs(func(tx models.PaymentTransaction) bool {
		return tx.Status == models.PaymentStatusCompleted && tx.ActivationError != ""
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *fakeRepo) TransitionStatus(_ context.Context, id uint, from []string, fields map[string]any) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx, ok := r.db.state.txs[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, s := range from {
		if tx.Status == s {
			allowed = true
		}
	}
	if !allowed {
		return false, nil
	}
	if err := r.update(tx, fields); err != nil {
		return false, err
	}
	return true, nil
}

func (r *fakeRepo) UpdateTransactionFields(_ context.Context, id uint, fields map[string]any) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	tx, ok := r.db.state.txs[id]
	if !ok {
		return nil
	}
	return r.update(tx, fields)
}

func (r *fakeRepo) update(tx models.PaymentTransaction, fields map[string]any) error {
	if err := applyTxFields(&tx, fields); err != nil {
		return err
	}
	if err := r.checkUnique(&tx); err != nil {
		return err
	}
	tx.UpdatedAt = time.Now()
	r.db.state.txs[tx.ID] = tx
	return nil
}

func strPtr(v any) *string {
	if v == nil {
		return nil
	}
	s := v.(string)
	return &s
}

func timePtr(v any) *time.Time {
	t := v.(time.Time)
	return &t
}

func applyTxFields(tx *models.PaymentTransaction, fields map[string]any) error {
	for k, v := range fields {
		switch k {
		case "status":
			tx.Status = v.(string)
		case "transaction_type":
			tx.TransactionType = v.(string)
		case "error_message":
			tx.ErrorMessage = v.(string)
		case "activation_error":
			tx.ActivationError = v.(string)
		case "stk_response_code":
			tx.StkResponseCode = v.(string)
		case "stk_response_description":
			tx.StkResponseDescription = v.(string)
		case "callback_phone_number":
			tx.CallbackPhoneNumber = v.(string)
		case "checkout_request_id":
			tx.CheckoutRequestID = strPtr(v)
		case "merchant_request_id":
			tx.MerchantRequestID = strPtr(v)
		case "mpesa_receipt_number":
			tx.MpesaReceiptNumber = strPtr(v)
		case "completed_receipt":
			tx.CompletedReceipt = strPtr(v)
		case "active_key":
			tx.ActiveKey = strPtr(v)
		case "completed_at":
			tx.CompletedAt = timePtr(v)
		case "failed_at":
			tx.FailedAt = timePtr(v)
		case "cancelled_at":
			tx.CancelledAt = timePtr(v)
		case "transaction_date":
			tx.TransactionDate = timePtr(v)
		case "callback_amount":
			tx.CallbackAmount = v.(decimal.NullDecimal)
		case "tier_pricing_id":
			tx.TierPricingID = v.(uint)
		case "amount":
			tx.Amount = v.(decimal.Decimal)
		default:
			return fmt.Errorf("fake repository: unsupported field %q", k)
		}
	}
	return nil
}

func (r *fakeRepo) CompletedReceiptExists(_ context.Context, receipt string) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, tx := range r.db.state.txs {
		if tx.CompletedReceipt != nil && *tx.CompletedReceipt == receipt {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) CreatePaymentIfNotExists(_ context.Context, p *models.Payment) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, existing := range r.db.state.payments {
		if existing.TransID == p.TransID && existing.BusinessShortCode == p.BusinessShortCode {
			return false, nil
		}
	}
	p.ID = r.db.state.nextID()
	p.CreatedAt = time.Now()
	r.db.state.payments[p.ID] = *p
	return true, nil
}

func (r *fakeRepo) FindPaymentByTransID(_ context.Context, transID string) (*models.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var found *models.Payment
	for _, p := range r.db.state.payments {
		if p.TransID == transID && (found == nil || p.ID < found.ID) {
			c := p
			found = &c
		}
	}
	if found == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return found, nil
}

func (r *fakeRepo) MarkPaymentAttributed(_ context.Context, id, sellerID, tierID uint) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	p, ok := r.db.state.payments[id]
	if !ok || (p.SellerID != nil && *p.SellerID != sellerID) {
		return nil
	}
	p.Attributed = true
	p.SellerID = &sellerID
	p.TierID = &tierID
	r.db.state.payments[id] = p
	return nil
}

func (r *fakeRepo) ListUnattributedPayments(_ context.Context, limit int) ([]models.Payment, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []models.Payment
	for _, p := range r.db.state.payments {
		if !p.Attributed {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (r *fakeRepo) RecentNotificationExists(_ context.Context, sellerID uint, kind string, since time.Time) (bool, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, n := range r.db.state.notifications {
		if n.SellerID == sellerID && n.Kind == kind && !n.CreatedAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) CreateNotification(_ context.Context, n *models.Notification) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.failNotification != nil {
		return r.db.failNotification
	}
	n.ID = r.db.state.nextID()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	r.db.state.notifications[n.ID] = *n
	return nil
}

func (r *fakeRepo) GetNotification(_ context.Context, id uint) (*models.Notification, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n, ok := r.db.state.notifications[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &n, nil
}

func (r *fakeRepo) MarkNotificationDelivered(_ context.Context, id uint) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n, ok := r.db.state.notifications[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	n.DeliveredAt = &now
	r.db.state.notifications[id] = n
	return nil
}

func (r *fakeRepo) CreateGatewayEventIfNotExists(_ context.Context, event *models.GatewayEvent) (bool, *models.GatewayEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, e := range r.db.state.events {
		if e.Kind == event.Kind && e.EventKey == event.EventKey {
			return false, &e, nil
		}
	}
	event.ID = r.db.state.nextID()
	event.CreatedAt = time.Now()
	r.db.state.events[event.ID] = *event
	stored := *event
	return true, &stored, nil
}

func (r *fakeRepo) MarkGatewayEventProcessed(_ context.Context, id uint, processingError string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.state.events[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	e.ProcessedAt = &now
	e.ProcessingError = processingError
	r.db.state.events[id] = e
	return nil
}

func (r *fakeRepo) MarkGatewayEventArchived(_ context.Context, id uint) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.state.events[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	now := time.Now()
	e.ArchivedAt = &now
	r.db.state.events[id] = e
	return nil
}

func (r *fakeRepo) GetGatewayEvent(_ context.Context, id uint) (*models.GatewayEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	e, ok := r.db.state.events[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &e, nil
}

func (r *fakeRepo) ListFailedGatewayEvents(_ context.Context, limit int) ([]models.GatewayEvent, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []models.GatewayEvent
	for _, e := range r.db.state.events {
		if e.ProcessingError != "" {
			rows = append(rows, e)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	pushes   []mpesa.PushRequest
	pushErr  error
	statuses map[string]*mpesa.StatusResult
	queryErr error
	seq      int
}

func (g *fakeGateway) Push(_ context.Context, in mpesa.PushRequest) (*mpesa.PushResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, in)
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	g.seq++
	return &mpesa.PushResult{
		CheckoutRequestID:   fmt.Sprintf("ws_CO_%d", g.seq),
		MerchantRequestID:   fmt.Sprintf("29115-%d", g.seq),
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
	}, nil
}

func (g *fakeGateway) QueryStatus(_ context.Context, checkoutRequestID string) (*mpesa.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if res, ok := g.statuses[checkoutRequestID]; ok {
		return res, nil
	}
	return &mpesa.StatusResult{ResultCode: "1", ResultDesc: "The transaction is being processed", CheckoutRequestID: checkoutRequestID}, nil
}

func (g *fakeGateway) pushCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pushes)
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []*models.Notification
}

func (n *fakeNotifier) Notify(_ context.Context, note *models.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}

type fakeAttempts struct {
	mu       sync.Mutex
	failures map[uint]int64
}

func (a *fakeAttempts) Failures(_ context.Context, sellerID uint) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures[sellerID], nil
}

func (a *fakeAttempts) RecordFailure(_ context.Context, sellerID uint) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[sellerID]++
	return nil
}

type fakeArchiver struct {
	mu  sync.Mutex
	ids []uint
}

func (a *fakeArchiver) ArchiveEvent(_ context.Context, eventID uint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, eventID)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const (
	tierBasic    uint = 1
	tierSilver   uint = 2
	tierGold     uint = 3
	tierPlatinum uint = 4

	sellerAlice uint = 117
	sellerBob   uint = 7

	testShortCode = "600111"
)

func testTiers() []models.Tier {
	price := decimal.NewFromInt
	return []models.Tier{
		{ID: tierBasic, Name: "Basic", Rank: 1, Pricings: []models.TierPricing{
			{ID: 11, TierID: tierBasic, Price: price(200), DurationMonths: 1},
		}},
		{ID: tierSilver, Name: "Silver", Rank: 2, Pricings: []models.TierPricing{
			{ID: 21, TierID: tierSilver, Price: price(500), DurationMonths: 1},
			{ID: 22, TierID: tierSilver, Price: price(1200), DurationMonths: 3},
		}},
		{ID: tierGold, Name: "Gold", Rank: 3, Pricings: []models.TierPricing{
			{ID: 31, TierID: tierGold, Price: price(1500), DurationMonths: 1},
		}},
		{ID: tierPlatinum, Name: "Platinum", Rank: 4, Pricings: []models.TierPricing{
			{ID: 41, TierID: tierPlatinum, Price: price(3000), DurationMonths: 1},
			{ID: 42, TierID: tierPlatinum, Price: price(1500), DurationMonths: 6},
		}},
	}
}

type harness struct {
	db       *fakeDB
	repo     *fakeRepo
	gateway  *fakeGateway
	notifier *fakeNotifier
	attempts *fakeAttempts
	archiver *fakeArchiver
	clock    *fakeClock
	svc      *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := newFakeDB()
	db.state.tiers = testTiers()
	db.state.sellers[sellerAlice] = models.Seller{ID: sellerAlice, Fullname: "Alice Wanjiku", PhoneNumber: "254712000117", BusinessRegistrationNumber: "PVT-117"}
	db.state.sellers[sellerBob] = models.Seller{ID: sellerBob, Fullname: "Bob Otieno", PhoneNumber: "254722000007"}

	catalog := tiers.NewCatalog()
	catalog.Replace(db.state.tiers)

	h := &harness{
		db:       db,
		repo:     &fakeRepo{db: db},
		gateway:  &fakeGateway{statuses: map[string]*mpesa.StatusResult{}},
		notifier: &fakeNotifier{},
		attempts: &fakeAttempts{failures: map[uint]int64{}},
		archiver: &fakeArchiver{},
		clock:    &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
	}
	cfg := DefaultConfig()
	cfg.PaybillNumber = testShortCode
	h.svc = NewService(Deps{
		Repo:     h.repo,
		Catalog:  catalog,
		Gateway:  h.gateway,
		Notifier: h.notifier,
		Attempts: h.attempts,
		Archiver: h.archiver,
		Config:   cfg,
		Now:      h.clock.Now,
	})
	return h
}

func (h *harness) setTier(sellerID, tierID uint, expiresAt *time.Time) {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	h.db.state.sellerTiers[sellerID] = models.SellerTier{ID: h.db.state.nextID(), SellerID: sellerID, TierID: tierID, ExpiresAt: expiresAt}
}

func (h *harness) sellerTier(sellerID uint) *models.SellerTier {
	st, _ := h.repo.GetSellerTier(context.Background(), sellerID)
	return st
}

func (h *harness) tx(id uint) models.PaymentTransaction {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	return h.db.state.txs[id]
}

func (h *harness) transactions(sellerID uint) []models.PaymentTransaction {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	return h.repo.sortedTxs(func(tx models.PaymentTransaction) bool { return tx.SellerID == sellerID })
}

func (h *harness) countStatus(sellerID uint, status string) int {
	n := 0
	for _, tx := range h.transactions(sellerID) {
		if tx.Status == status {
			n++
		}
	}
	return n
}

func (h *harness) ledger() []models.Payment {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	rows := make([]models.Payment, 0, len(h.db.state.payments))
	for _, p := range h.db.state.payments {
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func (h *harness) notifications(sellerID uint) int {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	n := 0
	for _, note := range h.db.state.notifications {
		if note.SellerID == sellerID {
			n++
		}
	}
	return n
}

func (h *harness) events() []models.GatewayEvent {
	h.db.mu.Lock()
	defer h.db.mu.Unlock()
	rows := make([]models.GatewayEvent, 0, len(h.db.state.events))
	for _, e := range h.db.state.events {
		rows = append(rows, e)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func (h *harness) seedDeposit(transID string, amount int64, ref string) models.Payment {
	p := &models.Payment{
		TransactionType:   "PayBill",
		TransID:           transID,
		TransTime:         "20260310085500",
		TransAmount:       decimal.NewFromInt(amount),
		BusinessShortCode: testShortCode,
		BillRefNumber:     ref,
		MSISDN:            "254712000117",
	}
	_, _ = h.repo.CreatePaymentIfNotExists(context.Background(), p)
	return *p
}

func stkSuccessPayload(checkoutID, receipt string, amount int64, phone string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-1",
		"CheckoutRequestID":%q,
		"ResultCode":0,
		"ResultDesc":"The service request is processed successfully.",
		"CallbackMetadata":{"Item":[
			{"Name":"Amount","Value":%d},
			{"Name":"MpesaReceiptNumber","Value":%q},
			{"Name":"TransactionDate","Value":20260310120510},
			{"Name":"PhoneNumber","Value":%s}
		]}}}}`, checkoutID, amount, receipt, phone))
}

func stkFailurePayload(checkoutID string, code int, desc string) []byte {
	return []byte(fmt.Sprintf(`{"Body":{"stkCallback":{
		"MerchantRequestID":"29115-1",
		"CheckoutRequestID":%q,
		"ResultCode":%d,
		"ResultDesc":%q}}}`, checkoutID, code, desc))
}

func c2bPayload(transID string, amount int64, ref, msisdn string) []byte {
	return []byte(fmt.Sprintf(`{
		"TransactionType":"Pay Bill",
		"TransID":%q,
		"TransTime":"20260310121500",
		"TransAmount":"%d.00",
		"BusinessShortCode":%q,
		"BillRefNumber":%q,
		"InvoiceNumber":"",
		"OrgAccountBalance":"49197.00",
		"ThirdPartyTransID":"",
		"MSISDN":%q,
		"FirstName":"JOHN",
		"MiddleName":"",
		"LastName":"DOE"}`, transID, amount, testShortCode, ref, msisdn))
}
