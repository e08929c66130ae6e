// Package kube provides a Kubernetes Lease based lock so that replicas of
// the agent never run overlapping scale-down invocations.
package kube

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/tools/leaderelection/resourcelock"
)

// releaseTimeout bounds the release call, which runs after the invocation
// context may already be cancelled.
const releaseTimeout = 10 * time.Second

// LeaseLockConfig configures a LeaseLock.
type LeaseLockConfig struct {
	Client    kubernetes.Interface
	Namespace string
	Name      string
	// Identity is recorded as the lease holder. Usually the pod name.
	Identity      string
	LeaseDuration time.Duration
	Logger        *slog.Logger
}

// LeaseLock is a non-blocking lock on a coordination.k8s.io/v1 Lease.
// A lease whose renew time plus duration has passed is considered free.
type LeaseLock struct {
	client    kubernetes.Interface
	namespace string
	name      string
	identity  string
	duration  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewLeaseLock creates a LeaseLock.
func NewLeaseLock(cfg LeaseLockConfig) (*LeaseLock, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("kubernetes client is required")
	}
	if cfg.Namespace == "" || cfg.Name == "" {
		return nil, fmt.Errorf("lease namespace and name are required")
	}
	if cfg.Identity == "" {
		return nil, fmt.Errorf("lease identity is required")
	}
	if cfg.LeaseDuration < time.Second {
		return nil, fmt.Errorf("lease duration must be >= 1s")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &LeaseLock{
		client:    cfg.Client,
		namespace: cfg.Namespace,
		name:      cfg.Name,
		identity:  cfg.Identity,
		duration:  cfg.LeaseDuration,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// resourceLock returns a fresh client-go lock. It caches the lease it last
// read, so each operation gets its own.
func (l *LeaseLock) resourceLock() *resourcelock.LeaseLock {
	return &resourcelock.LeaseLock{
		LeaseMeta:  metav1.ObjectMeta{Namespace: l.namespace, Name: l.name},
		Client:     l.client.CoordinationV1(),
		LockConfig: resourcelock.ResourceLockConfig{Identity: l.identity},
	}
}

// TryLock takes the lease if it is absent, free or expired. It returns
// ok=false without error when another holder owns a live lease or wins a
// concurrent update.
func (l *LeaseLock) TryLock(ctx context.Context) (func(), bool, error) {
	rl := l.resourceLock()
	now := metav1.NewTime(l.now())
	record := resourcelock.LeaderElectionRecord{
		HolderIdentity:       l.identity,
		LeaseDurationSeconds: int(l.duration / time.Second),
		AcquireTime:          now,
		RenewTime:            now,
	}

	current, _, err := rl.Get(ctx)
	if apierrors.IsNotFound(err) {
		err = rl.Create(ctx, record)
		if apierrors.IsAlreadyExists(err) {
			return nil, false, nil
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to create lease %s: %w", rl.Describe(), err)
		}
		l.logger.Debug("lease created", "lease", l.name, "holder", l.identity)
		return l.release, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get lease %s: %w", rl.Describe(), err)
	}

	holder := current.HolderIdentity
	if holder != "" && holder != l.identity && !l.expired(current) {
		l.logger.Debug("lease held by another replica", "lease", l.name, "holder", holder)
		return nil, false, nil
	}

	record.LeaderTransitions = current.LeaderTransitions
	if holder == l.identity {
		record.AcquireTime = current.AcquireTime
	} else {
		record.LeaderTransitions++
	}

	if err := rl.Update(ctx, record); err != nil {
		if apierrors.IsConflict(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to update lease %s: %w", rl.Describe(), err)
	}
	l.logger.Debug("lease acquired", "lease", l.name, "holder", l.identity)
	return l.release, true, nil
}

// release clears the holder if this replica still owns the lease.
func (l *LeaseLock) release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	rl := l.resourceLock()
	current, _, err := rl.Get(ctx)
	if err != nil {
		l.logger.Warn("failed to read lease for release", "lease", l.name, "error", err)
		return
	}
	if current.HolderIdentity != l.identity {
		return
	}
	cleared := resourcelock.LeaderElectionRecord{
		LeaseDurationSeconds: current.LeaseDurationSeconds,
		AcquireTime:          current.AcquireTime,
		LeaderTransitions:    current.LeaderTransitions,
	}
	if err := rl.Update(ctx, cleared); err != nil {
		l.logger.Warn("failed to release lease", "lease", l.name, "error", err)
	}
}

func (l *LeaseLock) expired(record *resourcelock.LeaderElectionRecord) bool {
	if record.RenewTime.IsZero() || record.LeaseDurationSeconds <= 0 {
		return true
	}
	expiry := record.RenewTime.Add(time.Duration(record.LeaseDurationSeconds) * time.Second)
	return !l.now().Before(expiry)
}
