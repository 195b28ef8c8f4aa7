package clientstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateRejectsDuplicateMAC(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.Create(ctx, "aa:bb:cc:11:22:33", ArchAMD64, map[string]string{"vendor": "PXEClient"}, Config{})
	require.NoError(t, err)

	_, err = s.Create(ctx, "aa:bb:cc:11:22:33", ArchAMD64, map[string]string{}, Config{})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestCreateRoundTripsDHCPInfo(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	dhcp := map[string]string{"vendor_class": "PXEClient:Arch:00007:UNDI:003016"}
	c, err := s.Create(ctx, "aa:bb:cc:11:22:33", ArchAMD64, dhcp, Config{})
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", c.IP)
	require.Equal(t, "unknown", c.Hostname)
	require.Equal(t, StateDHCP, c.State.State)

	got, err := s.Get(ctx, c.MAC)
	require.NoError(t, err)
	require.JSONEq(t, `{"vendor_class":"PXEClient:Arch:00007:UNDI:003016"}`, string(got.Info.DHCP))
}

func TestSetStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_, err := s.Create(ctx, "aa:bb:cc:11:22:33", ArchAMD64, map[string]string{}, Config{})
	require.NoError(t, err)

	for _, st := range ValidStates {
		require.NoError(t, s.SetState(ctx, "aa:bb:cc:11:22:33", st, nil))
		got, err := s.Get(ctx, "aa:bb:cc:11:22:33")
		require.NoError(t, err)
		require.Equal(t, st, got.State.State)
	}
}

func TestSetStateExpirationMonotonicity(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_, err := s.Create(ctx, "aa:bb:cc:11:22:33", ArchAMD64, map[string]string{}, Config{})
	require.NoError(t, err)

	require.NoError(t, s.SetState(ctx, "aa:bb:cc:11:22:33", StateUBoot, nil))
	c, err := s.Get(ctx, "aa:bb:cc:11:22:33")
	require.NoError(t, err)
	require.NotEqual(t, ExpirationNone, c.State.StateExpiration)

	expiresAt, err := time.Parse(time.RFC3339, c.State.StateExpiration)
	require.NoError(t, err)
	require.True(t, expiresAt.After(time.Now()))
}

func TestExpiryTickTransitionsToError(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_, err := s.Create(ctx, "aa:bb:cc:11:22:33", ArchAMD64, map[string]string{}, Config{})
	require.NoError(t, err)
	require.NoError(t, s.SetState(ctx, "aa:bb:cc:11:22:33", StateUBoot, nil))

	future := time.Now().Add(121 * time.Second)
	mutated, err := s.ListWithExpiryTick(ctx, future)
	require.NoError(t, err)
	require.Len(t, mutated, 1)
	require.Equal(t, StateError, mutated[0].State.State)
	require.Equal(t, "Timeout: U-Boot Requested boot.scr.uimg", mutated[0].State.ErrorShort)
}

func TestExpiryTickIgnoresNoneExpiration(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_, err := s.Create(ctx, "aa:bb:cc:11:22:33", ArchAMD64, map[string]string{}, Config{})
	require.NoError(t, err)

	// StateComplete's default expiration is "none" (§3.3's per-state
	// defaults table); even far in the future it must never auto-transition.
	require.NoError(t, s.SetState(ctx, "aa:bb:cc:11:22:33", StateComplete, nil))

	mutated, err := s.ListWithExpiryTick(ctx, time.Now().Add(365*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, mutated, 0)
}

func TestExpiryTickResetsBootImageOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	_, err := s.Create(ctx, "aa:bb:cc:11:22:33", ArchAMD64, map[string]string{}, Config{BootImage: "ubuntu", BootImageOnce: true})
	require.NoError(t, err)
	require.NoError(t, s.SetState(ctx, "aa:bb:cc:11:22:33", StateComplete, nil))

	mutated, err := s.ListWithExpiryTick(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, mutated, 1)
	require.Equal(t, "standby_loop", mutated[0].Config.BootImage)
	require.False(t, mutated[0].Config.BootImageOnce)
}

func TestListOrderingIsStable(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	macs := []string{"aa:00:00:00:00:01", "aa:00:00:00:00:02", "aa:00:00:00:00:03"}
	for _, m := range macs {
		_, err := s.Create(ctx, m, ArchAMD64, map[string]string{}, Config{})
		require.NoError(t, err)
	}

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, c := range list {
		require.Equal(t, macs[i], c.MAC)
	}
}

func TestSecondsUntilBoundaryBehavior(t *testing.T) {
	now := time.Now()
	require.Equal(t, 0, SecondsUntil(now.Add(-time.Minute), now))

	future := now.Add(10 * time.Second)
	got := SecondsUntil(future, now)
	require.GreaterOrEqual(t, got, 9)
	require.LessOrEqual(t, got, 10)
}

func TestDeleteUnknownMACReturnsNotFound(t *testing.T) {
	s := NewMemory()
	err := s.Delete(context.Background(), "no:such:mac:00:00:00")
	require.ErrorIs(t, err, ErrNotFound)
}
