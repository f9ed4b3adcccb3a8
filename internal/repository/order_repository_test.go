package repository

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/screenbridge/broker/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDBForTest(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.AutoMigrate(
		&domain.Order{},
		&domain.CurrentOrder{},
		&domain.OrderStatus{},
		&domain.UnusedDeviceID{},
		&domain.UsedDeviceID{},
		&domain.OnlineRecord{},
	)
	if err != nil {
		t.Fatalf("migrate schema: %v", err)
	}
	return db
}

func newOrderRepoForTest(t *testing.T) (OrderRepository, *gorm.DB) {
	t.Helper()
	db := newDBForTest(t)
	return NewOrderRepository(db), db
}

// sqlite permits a single writer; capping the pool at one connection keeps
// racing transactions serializable while the goroutines still contend for the
// store.
func limitToSingleConn(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
}

func testOrder(from, to int64, roomID string) *domain.Order {
	return &domain.Order{
		FromDeviceID:    from,
		ToDeviceID:      to,
		ClientRequestID: 1,
		SignalingHost:   "sig.example.com",
		SignalingPort:   8443,
		RoomID:          roomID,
		ServiceID:       "svc-" + roomID,
		ClientID:        "cli-" + roomID,
		AuthToken:       "token-" + roomID,
		P2PUser:         "p2puser",
		P2PToken:        "p2ptoken",
		RelayServer:     "relay.example.com:19302",
		ReflexServers:   "r1.example.com:3478,r2.example.com:3478",
	}
}

func TestOrderRepositoryCreateActiveInsertsProjections(t *testing.T) {
	repo, db := newOrderRepoForTest(t)

	if err := repo.CreateActive(testOrder(1, 2, "room-1")); err != nil {
		t.Fatalf("create active: %v", err)
	}

	current, err := repo.FindActiveByToDeviceID(2)
	if err != nil {
		t.Fatalf("find current: %v", err)
	}
	if current.RoomID != "room-1" || current.FromDeviceID != 1 {
		t.Fatalf("unexpected current order: %+v", current)
	}

	status, err := repo.FindStatusByToDeviceID(2)
	if err != nil {
		t.Fatalf("find status: %v", err)
	}
	if status.Status != domain.OrderStatusNew {
		t.Fatalf("expected status %q, got %q", domain.OrderStatusNew, status.Status)
	}
	if status.RoomID != "room-1" {
		t.Fatalf("status room mismatch: %q", status.RoomID)
	}

	var orders int64
	if err := db.Model(&domain.Order{}).Count(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 1 {
		t.Fatalf("expected 1 order row, got %d", orders)
	}
}

func TestOrderRepositoryCreateActiveDuplicateRoom(t *testing.T) {
	repo, _ := newOrderRepoForTest(t)

	if err := repo.CreateActive(testOrder(1, 2, "room-dup")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := repo.CreateActive(testOrder(3, 4, "room-dup"))
	if !errors.Is(err, ErrDuplicateRoom) {
		t.Fatalf("expected ErrDuplicateRoom, got %v", err)
	}
}

func TestOrderRepositoryCreateActiveDuplicateActiveSession(t *testing.T) {
	repo, db := newOrderRepoForTest(t)

	if err := repo.CreateActive(testOrder(1, 2, "room-a")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	err := repo.CreateActive(testOrder(3, 2, "room-b"))
	if !errors.Is(err, ErrDuplicateActiveSession) {
		t.Fatalf("expected ErrDuplicateActiveSession, got %v", err)
	}

	// The failed create must roll back its order row as well.
	var orders int64
	if err := db.Model(&domain.Order{}).Count(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 1 {
		t.Fatalf("expected rollback to leave 1 order, got %d", orders)
	}
}

func TestOrderRepositoryFinishFirstReasonWins(t *testing.T) {
	repo, _ := newOrderRepoForTest(t)

	if err := repo.CreateActive(testOrder(1, 2, "room-fin")); err != nil {
		t.Fatalf("create: %v", err)
	}

	finished, err := repo.FinishByRoomID("room-fin", domain.FinishReasonControlledClose)
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if !finished {
		t.Fatal("expected first finish to report true")
	}

	finished, err = repo.FinishByRoomID("room-fin", domain.FinishReasonControllingClose)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if finished {
		t.Fatal("expected second finish to report false")
	}

	order, err := repo.FindByRoomID("room-fin")
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if order.FinishReason == nil || *order.FinishReason != domain.FinishReasonControlledClose {
		t.Fatalf("expected first reason to stick, got %v", order.FinishReason)
	}
	if order.FinishedAt == nil {
		t.Fatal("expected finished_at to be set")
	}

	if _, err := repo.FindActiveByToDeviceID(2); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected current order gone, got %v", err)
	}
	if _, err := repo.FindStatusByToDeviceID(2); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected status gone, got %v", err)
	}
}

func TestOrderRepositoryFinishUnknownRoom(t *testing.T) {
	repo, _ := newOrderRepoForTest(t)

	finished, err := repo.FinishByRoomID("no-such-room", domain.FinishReasonControlledClose)
	if err != nil {
		t.Fatalf("finish unknown room: %v", err)
	}
	if finished {
		t.Fatal("expected false for unknown room")
	}
}

func TestOrderRepositoryFinishFreesControlledDevice(t *testing.T) {
	repo, _ := newOrderRepoForTest(t)

	if err := repo.CreateActive(testOrder(1, 2, "room-one")); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := repo.FinishByRoomID("room-one", domain.FinishReasonControlledClose); err != nil {
		t.Fatalf("finish first: %v", err)
	}
	if err := repo.CreateActive(testOrder(3, 2, "room-two")); err != nil {
		t.Fatalf("expected controlled device free after finish, got %v", err)
	}
}

func TestOrderRepositoryListActiveByFromDeviceID(t *testing.T) {
	repo, _ := newOrderRepoForTest(t)

	if err := repo.CreateActive(testOrder(1, 2, "room-x")); err != nil {
		t.Fatalf("create x: %v", err)
	}
	if err := repo.CreateActive(testOrder(1, 3, "room-y")); err != nil {
		t.Fatalf("create y: %v", err)
	}
	if err := repo.CreateActive(testOrder(9, 4, "room-z")); err != nil {
		t.Fatalf("create z: %v", err)
	}

	currents, err := repo.ListActiveByFromDeviceID(1)
	if err != nil {
		t.Fatalf("list by from: %v", err)
	}
	if len(currents) != 2 {
		t.Fatalf("expected 2 active sessions, got %d", len(currents))
	}
	if currents[0].RoomID != "room-x" || currents[1].RoomID != "room-y" {
		t.Fatalf("expected creation order, got %+v", currents)
	}

	statuses, err := repo.ListStatusByFromDeviceID(1)
	if err != nil {
		t.Fatalf("list statuses: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}

	active, err := repo.CountActive()
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 3 {
		t.Fatalf("expected 3 active, got %d", active)
	}
}

func TestOrderRepositoryConcurrentCreateSameControlledDevice(t *testing.T) {
	repo, db := newOrderRepoForTest(t)
	limitToSingleConn(t, db)

	const attempts = 4
	errs := make(chan error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs <- repo.CreateActive(testOrder(int64(10+i), 2, fmt.Sprintf("race-room-%d", i)))
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicateActiveSession):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d / %d", attempts-1, wins, conflicts)
	}

	var orders, currents, statuses int64
	if err := db.Model(&domain.Order{}).Count(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if err := db.Model(&domain.CurrentOrder{}).Count(&currents).Error; err != nil {
		t.Fatalf("count currents: %v", err)
	}
	if err := db.Model(&domain.OrderStatus{}).Count(&statuses).Error; err != nil {
		t.Fatalf("count statuses: %v", err)
	}
	if orders != 1 || currents != 1 || statuses != 1 {
		t.Fatalf("expected exactly one row per table, got %d/%d/%d", orders, currents, statuses)
	}
}

func TestOrderRepositoryConcurrentCreateSameRoom(t *testing.T) {
	repo, db := newOrderRepoForTest(t)
	limitToSingleConn(t, db)

	const attempts = 4
	errs := make(chan error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs <- repo.CreateActive(testOrder(1, int64(20+i), "race-room"))
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicateRoom):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d / %d", attempts-1, wins, conflicts)
	}

	var orders int64
	if err := db.Model(&domain.Order{}).Count(&orders).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if orders != 1 {
		t.Fatalf("expected a single order for the room, got %d", orders)
	}
}

func TestOrderRepositoryListHistoryPagination(t *testing.T) {
	repo, _ := newOrderRepoForTest(t)

	for i := 0; i < 4; i++ {
		order := testOrder(1, int64(10+i), fmt.Sprintf("room-%d", i))
		if err := repo.CreateActive(order); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	total, err := repo.CountOrders()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if total != 4 {
		t.Fatalf("expected total 4, got %d", total)
	}

	page, err := repo.ListHistory(2, 10)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page))
	}
	if page[0].RoomID != "room-2" || page[1].RoomID != "room-3" {
		t.Fatalf("expected oldest-first paging, got %+v", page)
	}

	empty, err := repo.ListHistory(10, 10)
	if err != nil {
		t.Fatalf("list beyond range: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty page beyond range, got %d rows", len(empty))
	}
}
