package graph

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/socialfeed/internal/model"
	"github.com/hitoshi/socialfeed/internal/repository"
	"github.com/hitoshi/socialfeed/internal/retry"
)

// --- モック ---

// fakeUserRepo はfollowing/followersをメモリ上に保持するUserRepository。
// 集合操作はmutexで原子的に行い、ストアの条件付き更新と同じ結果を返す。
// xxxFnが設定されている場合はそちらを優先する。
type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User

	findByIDFn    func(ctx context.Context, id string) (*model.User, error)
	addFollowerFn func(ctx context.Context, userID, followerID string) (repository.SetMutation, error)
	rmFollowerFn  func(ctx context.Context, userID, followerID string) (repository.SetMutation, error)
}

func newFakeUserRepo(ids ...string) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*model.User)}
	for _, id := range ids {
		r.users[id] = &model.User{ID: id, Username: id, Following: []string{}, Followers: []string{}}
	}
	return r
}

func (r *fakeUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	cp.Following = append([]string{}, u.Following...)
	cp.Followers = append([]string{}, u.Followers...)
	return &cp, nil
}

func (r *fakeUserRepo) Create(ctx context.Context, user *model.User) error { return nil }
func (r *fakeUserRepo) List(ctx context.Context, skip, limit int) ([]*model.User, error) {
	return nil, nil
}
func (r *fakeUserRepo) UpdateProfile(ctx context.Context, id string, update model.ProfileUpdate, now time.Time) (*model.User, error) {
	return nil, nil
}
func (r *fakeUserRepo) ListAdminIDs(ctx context.Context) ([]string, error) { return nil, nil }
func (r *fakeUserRepo) ListMissingFollowerEdges(ctx context.Context, limit int) ([]repository.FollowEdge, error) {
	return nil, nil
}
func (r *fakeUserRepo) ListStaleFollowerEdges(ctx context.Context, limit int) ([]repository.FollowEdge, error) {
	return nil, nil
}

func (r *fakeUserRepo) mutate(id, value string, following, add bool) repository.SetMutation {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return repository.SetMissing
	}
	set := &u.Followers
	if following {
		set = &u.Following
	}
	for i, v := range *set {
		if v == value {
			if add {
				return repository.SetUnchanged
			}
			*set = append((*set)[:i:i], (*set)[i+1:]...)
			return repository.SetApplied
		}
	}
	if !add {
		return repository.SetUnchanged
	}
	*set = append(*set, value)
	return repository.SetApplied
}

func (r *fakeUserRepo) AddFollowing(ctx context.Context, userID, targetID string) (repository.SetMutation, error) {
	return r.mutate(userID, targetID, true, true), nil
}
func (r *fakeUserRepo) RemoveFollowing(ctx context.Context, userID, targetID string) (repository.SetMutation, error) {
	return r.mutate(userID, targetID, true, false), nil
}
func (r *fakeUserRepo) AddFollower(ctx context.Context, userID, followerID string) (repository.SetMutation, error) {
	if r.addFollowerFn != nil {
		return r.addFollowerFn(ctx, userID, followerID)
	}
	return r.mutate(userID, followerID, false, true), nil
}
func (r *fakeUserRepo) RemoveFollower(ctx context.Context, userID, followerID string) (repository.SetMutation, error) {
	if r.rmFollowerFn != nil {
		return r.rmFollowerFn(ctx, userID, followerID)
	}
	return r.mutate(userID, followerID, false, false), nil
}

type mockInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (m *mockInvalidator) InvalidateTimeline(ctx context.Context, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, userID)
}

type mockRecorder struct {
	mu      sync.Mutex
	results map[string]int
}

func (m *mockRecorder) RecordGraphMutation(op, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results == nil {
		m.results = make(map[string]int)
	}
	m.results[op+":"+result]++
}

func newTestService(repo repository.UserRepository) (*Service, *mockInvalidator, *mockRecorder) {
	inv := &mockInvalidator{}
	rec := &mockRecorder{}
	policy := retry.Policy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return NewService(repo, inv, rec, policy, logger), inv, rec
}

// --- テスト ---

func TestService_Follow_AppliesBothSides(t *testing.T) {
	repo := newFakeUserRepo("a", "b")
	svc, inv, rec := newTestService(repo)

	if err := svc.Follow(context.Background(), "a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := repo.FindByID(context.Background(), "a")
	b, _ := repo.FindByID(context.Background(), "b")
	if !a.IsFollowing("b") {
		t.Error("a.following should contain b")
	}
	if !b.HasFollower("a") {
		t.Error("b.followers should contain a")
	}
	if len(inv.users) != 1 || inv.users[0] != "a" {
		t.Errorf("followerのタイムラインが無効化されるべき: %v", inv.users)
	}
	if rec.results["follow:ok"] != 1 {
		t.Errorf("metrics = %v", rec.results)
	}
}

func TestService_Follow_Errors(t *testing.T) {
	tests := []struct {
		name     string
		follower string
		target   string
		setup    func(r *fakeUserRepo)
		wantCode string
	}{
		{"自己フォロー", "a", "a", nil, model.ErrCodeSelfFollow},
		{"followerが存在しない", "x", "b", nil, model.ErrCodeNotFound},
		{"targetが存在しない", "a", "x", nil, model.ErrCodeNotFound},
		{"既にフォロー済み", "a", "b", func(r *fakeUserRepo) {
			r.mutate("a", "b", true, true)
			r.mutate("b", "a", false, true)
		}, model.ErrCodeAlreadyFollowing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeUserRepo("a", "b")
			if tt.setup != nil {
				tt.setup(repo)
			}
			svc, inv, _ := newTestService(repo)

			err := svc.Follow(context.Background(), tt.follower, tt.target)
			if !model.HasCode(err, tt.wantCode) {
				t.Errorf("err = %v, want code %s", err, tt.wantCode)
			}
			if len(inv.users) != 0 {
				t.Errorf("失敗時はキャッシュを無効化しない: %v", inv.users)
			}
		})
	}
}

func TestService_Follow_SecondSideFailureIsPartiallyApplied(t *testing.T) {
	repo := newFakeUserRepo("a", "b")
	repo.addFollowerFn = func(ctx context.Context, userID, followerID string) (repository.SetMutation, error) {
		return repository.SetUnchanged, model.NewStoreUnavailableError(errors.New("connection reset"))
	}
	svc, inv, rec := newTestService(repo)

	err := svc.Follow(context.Background(), "a", "b")

	var partial *model.PartiallyAppliedError
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v, want PartiallyAppliedError", err)
	}
	if partial.AppliedSide != model.EdgeSideFollowing || partial.Op != "follow" {
		t.Errorf("partial = %+v", partial)
	}
	if partial.FollowerID != "a" || partial.TargetID != "b" {
		t.Errorf("partial ids = %s→%s", partial.FollowerID, partial.TargetID)
	}
	if model.IsRetryable(err) {
		t.Error("部分適用は再試行可能エラーとして扱わない")
	}
	a, _ := repo.FindByID(context.Background(), "a")
	if !a.IsFollowing("b") {
		t.Error("following側は反映されたままであるべき")
	}
	if len(inv.users) != 1 {
		t.Errorf("following側が変化したためタイムラインは無効化されるべき: %v", inv.users)
	}
	if rec.results["follow:PARTIALLY_APPLIED"] != 1 {
		t.Errorf("metrics = %v", rec.results)
	}
}

func TestService_Follow_SecondSideAlreadyPresentIsSuccess(t *testing.T) {
	repo := newFakeUserRepo("a", "b")
	repo.mutate("b", "a", false, true) // 前回の部分適用の残り
	svc, _, _ := newTestService(repo)

	if err := svc.Follow(context.Background(), "a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := repo.FindByID(context.Background(), "b")
	if len(b.Followers) != 1 {
		t.Errorf("followersに重複があってはならない: %v", b.Followers)
	}
}

func TestService_Follow_StoreUnavailableIsRetriedThenReturned(t *testing.T) {
	repo := newFakeUserRepo("a", "b")
	var calls atomic.Int32
	repo.findByIDFn = func(ctx context.Context, id string) (*model.User, error) {
		calls.Add(1)
		return nil, model.NewStoreUnavailableError(context.DeadlineExceeded)
	}
	svc, _, _ := newTestService(repo)

	err := svc.Follow(context.Background(), "a", "b")
	if !model.IsRetryable(err) {
		t.Errorf("err = %v, want STORE_UNAVAILABLE", err)
	}
	if calls.Load() < 2 {
		t.Errorf("再試行されるべき: calls = %d", calls.Load())
	}
}

func TestService_Follow_ConcurrentSamePairSucceedsOnce(t *testing.T) {
	repo := newFakeUserRepo("a", "b")
	svc, _, _ := newTestService(repo)

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Follow(context.Background(), "a", "b")
		}(i)
	}
	wg.Wait()

	success, already := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			success++
		case model.HasCode(err, model.ErrCodeAlreadyFollowing):
			already++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if success != 1 || already != n-1 {
		t.Errorf("success = %d, already = %d", success, already)
	}

	a, _ := repo.FindByID(context.Background(), "a")
	b, _ := repo.FindByID(context.Background(), "b")
	if len(a.Following) != 1 || len(b.Followers) != 1 {
		t.Errorf("following = %v, followers = %v", a.Following, b.Followers)
	}
}

func TestService_Unfollow(t *testing.T) {
	repo := newFakeUserRepo("a", "b")
	svc, inv, _ := newTestService(repo)
	ctx := context.Background()

	if err := svc.Unfollow(ctx, "a", "b"); !model.HasCode(err, model.ErrCodeNotFollowing) {
		t.Errorf("未フォローの解除はNOT_FOLLOWINGであるべき: %v", err)
	}

	if err := svc.Follow(ctx, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if err := svc.Unfollow(ctx, "a", "b"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := repo.FindByID(ctx, "a")
	b, _ := repo.FindByID(ctx, "b")
	if a.IsFollowing("b") || b.HasFollower("a") {
		t.Errorf("両側から削除されるべき: following=%v followers=%v", a.Following, b.Followers)
	}
	if len(inv.users) != 2 {
		t.Errorf("follow/unfollowそれぞれで無効化されるべき: %v", inv.users)
	}

	if err := svc.Unfollow(ctx, "a", "missing"); !model.HasCode(err, model.ErrCodeNotFound) {
		t.Errorf("存在しないユーザーはNOT_FOUNDであるべき: %v", err)
	}
}

func TestService_Unfollow_SecondSideFailureIsPartiallyApplied(t *testing.T) {
	repo := newFakeUserRepo("a", "b")
	svc, _, _ := newTestService(repo)
	if err := svc.Follow(context.Background(), "a", "b"); err != nil {
		t.Fatal(err)
	}
	repo.rmFollowerFn = func(ctx context.Context, userID, followerID string) (repository.SetMutation, error) {
		return repository.SetUnchanged, errors.New("write conflict")
	}

	err := svc.Unfollow(context.Background(), "a", "b")
	var partial *model.PartiallyAppliedError
	if !errors.As(err, &partial) || partial.Op != "unfollow" {
		t.Fatalf("err = %v, want unfollow PartiallyAppliedError", err)
	}
}

func TestService_FollowingOfAndFollowersOf(t *testing.T) {
	repo := newFakeUserRepo("a", "b", "c")
	svc, _, _ := newTestService(repo)
	ctx := context.Background()
	_ = svc.Follow(ctx, "a", "b")
	_ = svc.Follow(ctx, "c", "b")

	following, err := svc.FollowingOf(ctx, "a")
	if err != nil || len(following) != 1 || following[0] != "b" {
		t.Errorf("FollowingOf(a) = %v, %v", following, err)
	}
	followers, err := svc.FollowersOf(ctx, "b")
	if err != nil || len(followers) != 2 {
		t.Errorf("FollowersOf(b) = %v, %v", followers, err)
	}
	if _, err := svc.FollowingOf(ctx, "missing"); !model.HasCode(err, model.ErrCodeNotFound) {
		t.Errorf("err = %v, want NOT_FOUND", err)
	}
}
