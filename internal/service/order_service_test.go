package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/screenbridge/broker/internal/domain"
	"github.com/screenbridge/broker/internal/repository"
	"github.com/screenbridge/broker/internal/security"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	testRelays   = []string{"relay.example.com:19302"}
	testReflexes = []string{"r1.example.com:3478", "r2.example.com:3478"}
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

func newTestTokenIssuer() *security.TokenIssuer {
	return security.NewTokenIssuer("broker-test", "test-secret", time.Hour)
}

func newOrderServiceForTest(t *testing.T, cache StatusCacheStore) (*OrderService, repository.OnlineRepository) {
	t.Helper()
	db := newDBForTest(t)
	onlineRepo := repository.NewOnlineRepository(db)
	svc := NewOrderService(
		repository.NewOrderRepository(db),
		NewOnlineService(onlineRepo),
		cache,
		newTestTokenIssuer(),
		SignalingEndpoint{Host: "sig.example.com", Port: 8443},
		testRelays,
		testReflexes,
		time.Minute,
	)
	return svc, onlineRepo
}

func TestOrderServiceCreateOrderMintsSessionCredentials(t *testing.T) {
	svc, onlineRepo := newOrderServiceForTest(t, nil)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, 1, 2, 77)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if order.RoomID == "" || order.ServiceID == "" || order.ClientID == "" {
		t.Fatalf("expected minted identifiers, got %+v", order)
	}
	if len(order.P2PUser) != 6 || len(order.P2PToken) != 20 {
		t.Fatalf("unexpected p2p credential lengths: %d / %d", len(order.P2PUser), len(order.P2PToken))
	}
	if order.RelayServer != testRelays[0] {
		t.Fatalf("unexpected relay server %q", order.RelayServer)
	}
	if got := order.ReflexServerList(); len(got) != 2 || got[0] != testReflexes[0] {
		t.Fatalf("unexpected reflex servers %v", got)
	}
	if order.SignalingHost != "sig.example.com" || order.SignalingPort != 8443 {
		t.Fatalf("unexpected signaling endpoint %s:%d", order.SignalingHost, order.SignalingPort)
	}

	claims, err := newTestTokenIssuer().ParseSessionToken(order.AuthToken)
	if err != nil {
		t.Fatalf("parse session token: %v", err)
	}
	if claims.RoomID != order.RoomID || claims.FromDeviceID != 1 || claims.ToDeviceID != 2 {
		t.Fatalf("token claims mismatch: %+v", claims)
	}

	records, err := onlineRepo.ListHistory(0, 10)
	if err != nil {
		t.Fatalf("online history: %v", err)
	}
	if len(records) != 1 || records[0].Controlling != 1 || records[0].Controlled != 2 {
		t.Fatalf("expected one online record for 1->2, got %+v", records)
	}
}

func TestOrderServiceCreateOrderRejectsSecondActiveSession(t *testing.T) {
	svc, _ := newOrderServiceForTest(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, 1, 2, 1); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.CreateOrder(ctx, 3, 2, 2)
	if !errors.Is(err, repository.ErrDuplicateActiveSession) {
		t.Fatalf("expected ErrDuplicateActiveSession, got %v", err)
	}
}

func TestOrderServiceFinishFirstReasonWins(t *testing.T) {
	svc, _ := newOrderServiceForTest(t, nil)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, 1, 2, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	finished, err := svc.Finish(ctx, order.RoomID, domain.FinishReasonControlledClose)
	if err != nil {
		t.Fatalf("first finish: %v", err)
	}
	if !finished {
		t.Fatal("expected first finish to report true")
	}

	finished, err = svc.Finish(ctx, order.RoomID, domain.FinishReasonControllingLogout)
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if finished {
		t.Fatal("expected second finish to report false")
	}

	reloaded, err := svc.OrderByRoomID(order.RoomID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.FinishReason == nil || *reloaded.FinishReason != domain.FinishReasonControlledClose {
		t.Fatalf("expected first reason to stick, got %v", reloaded.FinishReason)
	}
}

func TestOrderServiceFinishUnknownRoom(t *testing.T) {
	svc, _ := newOrderServiceForTest(t, nil)

	finished, err := svc.Finish(context.Background(), "no-such-room", domain.FinishReasonControlledClose)
	if err != nil {
		t.Fatalf("finish unknown: %v", err)
	}
	if finished {
		t.Fatal("expected false for unknown room")
	}
}

func TestOrderServiceFinishByDeviceClose(t *testing.T) {
	svc, _ := newOrderServiceForTest(t, nil)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, 1, 2, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A device that is on neither end of the order must not be able to
	// close it.
	finished, err := svc.FinishByDeviceClose(ctx, order.RoomID, 99)
	if err != nil {
		t.Fatalf("close by stranger: %v", err)
	}
	if finished {
		t.Fatal("expected close by unrelated device to be a no-op")
	}
	if _, err := svc.ActiveByControlledDevice(2); err != nil {
		t.Fatalf("session should still be active: %v", err)
	}

	finished, err = svc.FinishByDeviceClose(ctx, order.RoomID, 2)
	if err != nil {
		t.Fatalf("close by controlled: %v", err)
	}
	if !finished {
		t.Fatal("expected close by controlled device to finish")
	}
	reloaded, err := svc.OrderByRoomID(order.RoomID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *reloaded.FinishReason != domain.FinishReasonControlledClose {
		t.Fatalf("expected controlled_close, got %q", *reloaded.FinishReason)
	}
}

func TestOrderServiceFinishByDeviceCloseControllingSide(t *testing.T) {
	svc, _ := newOrderServiceForTest(t, nil)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, 1, 2, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	finished, err := svc.FinishByDeviceClose(ctx, order.RoomID, 1)
	if err != nil {
		t.Fatalf("close by controlling: %v", err)
	}
	if !finished {
		t.Fatal("expected close by controlling device to finish")
	}
	reloaded, err := svc.OrderByRoomID(order.RoomID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *reloaded.FinishReason != domain.FinishReasonControllingClose {
		t.Fatalf("expected controlling_close, got %q", *reloaded.FinishReason)
	}
}

func TestOrderServiceControlledLogout(t *testing.T) {
	svc, _ := newOrderServiceForTest(t, nil)
	ctx := context.Background()

	order, err := svc.CreateOrder(ctx, 1, 2, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	finished, err := svc.FinishByControlledLogout(ctx, 2)
	if err != nil {
		t.Fatalf("controlled logout: %v", err)
	}
	if !finished {
		t.Fatal("expected logout to finish the session")
	}
	reloaded, err := svc.OrderByRoomID(order.RoomID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *reloaded.FinishReason != domain.FinishReasonControlledLogout {
		t.Fatalf("expected controlled_logout, got %q", *reloaded.FinishReason)
	}

	finished, err = svc.FinishByControlledLogout(ctx, 42)
	if err != nil {
		t.Fatalf("logout without session: %v", err)
	}
	if finished {
		t.Fatal("expected false for device without session")
	}
}

func TestOrderServiceControllingLogoutFinishesAll(t *testing.T) {
	svc, _ := newOrderServiceForTest(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, 1, 2, 1); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, 1, 3, 2); err != nil {
		t.Fatalf("create second: %v", err)
	}

	count, err := svc.FinishByControllingLogout(ctx, 1)
	if err != nil {
		t.Fatalf("controlling logout: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 finished, got %d", count)
	}
	active, err := svc.CountActive()
	if err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 0 {
		t.Fatalf("expected no active sessions, got %d", active)
	}
}

func TestOrderServiceStatusReadThroughAndInvalidation(t *testing.T) {
	cache := NewInMemoryStatusCacheStore()
	svc, _ := newOrderServiceForTest(t, cache)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, 1, 2, 1); err != nil {
		t.Fatalf("create: %v", err)
	}

	status, err := svc.StatusByControlledDevice(ctx, 2)
	if err != nil {
		t.Fatalf("status lookup: %v", err)
	}
	if status.Status != domain.OrderStatusNew {
		t.Fatalf("expected NEW, got %q", status.Status)
	}
	if _, hit, _ := cache.Get(ctx, 2); !hit {
		t.Fatal("expected status to be cached after read-through")
	}

	if _, err := svc.FinishByControlledLogout(ctx, 2); err != nil {
		t.Fatalf("logout: %v", err)
	}
	// Finish must evict the cached row so a stale NEW cannot be served.
	if _, hit, _ := cache.Get(ctx, 2); hit {
		t.Fatal("expected cache entry evicted on finish")
	}
	if _, err := svc.StatusByControlledDevice(ctx, 2); !errors.Is(err, repository.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound after finish, got %v", err)
	}
}

func TestOrderServiceStatusesByControllingDevice(t *testing.T) {
	svc, _ := newOrderServiceForTest(t, nil)
	ctx := context.Background()

	if _, err := svc.CreateOrder(ctx, 1, 2, 1); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := svc.CreateOrder(ctx, 1, 3, 2); err != nil {
		t.Fatalf("create second: %v", err)
	}

	statuses, err := svc.StatusesByControllingDevice(1)
	if err != nil {
		t.Fatalf("statuses: %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	for _, status := range statuses {
		if status.Status != domain.OrderStatusNew {
			t.Fatalf("expected NEW, got %q", status.Status)
		}
	}
}

func TestOrderServiceHistoryPage(t *testing.T) {
	svc, _ := newOrderServiceForTest(t, nil)
	ctx := context.Background()

	for i := int64(0); i < 3; i++ {
		if _, err := svc.CreateOrder(ctx, 1, 10+i, i); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	page, err := svc.History(1, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if page.Total != 3 {
		t.Fatalf("expected total 3, got %d", page.Total)
	}
	if page.Index != 1 || page.Limit != 10 {
		t.Fatalf("unexpected paging echo: %+v", page)
	}
	if len(page.Orders) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(page.Orders))
	}
	if page.Orders[0].ToDeviceID != 11 {
		t.Fatalf("unexpected first row: %+v", page.Orders[0])
	}
}
