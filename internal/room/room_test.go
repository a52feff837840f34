package room_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/mind-engage/mindengage-classroom/internal/classroom"
	"github.com/mind-engage/mindengage-classroom/internal/room"
)

// scripted returns a source whose successive draws spell the given codes.
func scripted(codes ...string) *bytes.Reader {
	var b []byte
	for _, c := range codes {
		for i := 0; i < len(c); i++ {
			b = append(b, indexOf(c[i]))
		}
		b = append(b, 0, 0, 0, 0, 0, 0) // unused tail of the 12-byte read
	}
	return bytes.NewReader(b)
}

func indexOf(c byte) byte {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	return byte(bytes.IndexByte([]byte(alphabet), c))
}

type countingStore struct {
	classroom.Store
	existsCalls int
	dupOnce     map[string]bool // CreateRoom reports a duplicate once for these codes
}

func (c *countingStore) RoomExists(ctx context.Context, code string) (bool, error) {
	c.existsCalls++
	return c.Store.RoomExists(ctx, code)
}

func (c *countingStore) CreateRoom(ctx context.Context, r classroom.Room) (classroom.Room, error) {
	if c.dupOnce[r.RoomID] {
		delete(c.dupOnce, r.RoomID)
		return classroom.Room{}, classroom.ErrDuplicateRoomCode
	}
	return c.Store.CreateRoom(ctx, r)
}

func TestGenerate_CollisionOnThirdRoom(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: classroom.NewInMemoryStore()}
	gen := room.NewGenerator(store).WithSource(scripted("AAAAAA", "BBBBBB", "AAAAAA", "CCCCCC", "DDDDDD", "EEEEEE"))
	svc := room.NewService(store, gen)

	seen := map[string]bool{}
	var codes []string
	for i := 0; i < 5; i++ {
		r, err := svc.Create(ctx, "t1", "Room")
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		if seen[r.RoomID] {
			t.Fatalf("duplicate code %s", r.RoomID)
		}
		seen[r.RoomID] = true
		codes = append(codes, r.RoomID)
	}
	if codes[2] != "CCCCCC" {
		t.Fatalf("third room should have skipped the collision, got %v", codes)
	}
	if store.existsCalls != 6 {
		t.Fatalf("want 6 existence checks, got %d", store.existsCalls)
	}
}

func TestCreate_RegeneratesOnInsertRace(t *testing.T) {
	ctx := context.Background()
	store := &countingStore{Store: classroom.NewInMemoryStore(), dupOnce: map[string]bool{"RACE01": true}}
	gen := room.NewGenerator(store).WithSource(scripted("RACE01", "SAFE02"))

	r, err := room.NewService(store, gen).Create(ctx, "t1", "Chem")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if r.RoomID != "SAFE02" {
		t.Fatalf("want regenerated code, got %s", r.RoomID)
	}
}

func TestGenerate_NeverReturnsExistingCode(t *testing.T) {
	ctx := context.Background()
	store := classroom.NewInMemoryStore()
	svc := room.NewService(store, nil)
	existing := map[string]bool{}
	for i := 0; i < 200; i++ {
		r, err := svc.Create(ctx, "t1", "Room")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if existing[r.RoomID] {
			t.Fatalf("code %s reused", r.RoomID)
		}
		if !room.ValidCode(r.RoomID) {
			t.Fatalf("bad code shape %q", r.RoomID)
		}
		existing[r.RoomID] = true
	}
}

func TestGenerate_RejectsBiasedBytes(t *testing.T) {
	// 252..255 are skipped; the remaining bytes map onto the alphabet.
	src := bytes.NewReader([]byte{255, 252, 0, 1, 2, 3, 4, 35, 0, 0, 0, 0})
	code, err := room.NewGenerator(classroom.NewInMemoryStore()).WithSource(src).Generate(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if code != "ABCDE9" {
		t.Fatalf("code = %s", code)
	}
}

type allTaken struct{ calls int }

func (a *allTaken) RoomExists(context.Context, string) (bool, error) {
	a.calls++
	return true, nil
}

func TestGenerate_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	taken := &allTaken{}
	gen := room.NewGenerator(taken)
	done := make(chan error, 1)
	go func() { _, err := gen.Generate(ctx); done <- err }()
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
}

func TestJoin_ActiveRoomsOnlyAndIdempotent(t *testing.T) {
	ctx := context.Background()
	store := classroom.NewInMemoryStore()
	svc := room.NewService(store, nil)
	stu, _ := store.CreateUser(ctx, classroom.User{Role: classroom.RoleStudent, Email: "s@x.io"})

	r, err := svc.Create(ctx, "t1", "Math")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 2; i++ {
		if r, err = svc.Join(ctx, r.RoomID, stu.ID); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	if len(r.Students) != 1 {
		t.Fatalf("students = %v", r.Students)
	}
	if u, _ := store.GetUser(ctx, stu.ID); u.RoomID != r.RoomID {
		t.Fatalf("user room not recorded: %+v", u)
	}

	if _, err := svc.SetActive(ctx, r.RoomID, "someone-else", false); !errors.Is(err, room.ErrNotOwner) {
		t.Fatalf("want ErrNotOwner, got %v", err)
	}
	if _, err := svc.SetActive(ctx, r.RoomID, "t1", false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if _, err := svc.Join(ctx, r.RoomID, "s2"); !errors.Is(err, classroom.ErrRoomInactive) {
		t.Fatalf("want ErrRoomInactive, got %v", err)
	}
	if _, err := svc.Join(ctx, "bad", "s2"); !errors.Is(err, classroom.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	r, err = svc.Leave(ctx, r.RoomID, stu.ID)
	if err != nil || len(r.Students) != 0 {
		t.Fatalf("leave: %+v %v", r, err)
	}
}
