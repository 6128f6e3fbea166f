package subscription

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribeIsCaseInsensitiveAndIdempotent(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("0xABC", "Venus")
	r.Subscribe("0xabc", " venus ")
	r.Subscribe("0xAbC", "VENUS")

	require.Equal(t, []string{"0xabc"}, r.AddressesFor("venus"))
	require.Equal(t, []string{"venus"}, r.ProtocolsFor("0XABC"))
}

func TestSubscribeIgnoresEmptyProtocol(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("0xabc", "   ")
	require.Empty(t, r.ProtocolsFor("0xabc"))
	require.Empty(t, r.AddressesFor(""))
}

func TestSubscribeThenUnsubscribeRestoresState(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("0x1", "pancake")
	before := r.AddressesFor("pancake")

	r.Subscribe("0x2", "pancake")
	r.Unsubscribe("0X2", "PANCAKE")
	require.Equal(t, before, r.AddressesFor("pancake"))

	// absent pair is a no-op
	r.Unsubscribe("0x9", "pancake")
	r.Unsubscribe("0x1", "unknown")
	require.Equal(t, before, r.AddressesFor("pancake"))
}

func TestUnknownProtocolIsEmpty(t *testing.T) {
	r := NewRegistry()
	got := r.AddressesFor("nothing")
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestProtocolsForManyToMany(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("0x1", "venus")
	r.Subscribe("0x1", "pancake")
	r.Subscribe("0x2", "pancake")

	require.ElementsMatch(t, []string{"venus", "pancake"}, r.ProtocolsFor("0x1"))
	require.Equal(t, []string{"pancake"}, r.ProtocolsFor("0x2"))
	require.ElementsMatch(t, []string{"0x1", "0x2"}, r.AddressesFor("pancake"))
}

func TestConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			addr := fmt.Sprintf("0x%d", i)
			r.Subscribe(addr, "venus")
			r.Unsubscribe(addr, "venus")
			r.Subscribe(addr, "venus")
		}(i)
		go func() {
			defer wg.Done()
			_ = r.AddressesFor("venus")
			_ = r.ProtocolsFor("0x1")
		}()
	}
	wg.Wait()
	require.Len(t, r.AddressesFor("venus"), 16)
}
