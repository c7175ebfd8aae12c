package memberlist_test

import (
	"net"
	"testing"
	"time"

	ml "github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/require"

	"github.com/next-trace/scg-service-core/adapters/memberlist"
	"github.com/next-trace/scg-service-core/servicepool"
)

func node(name, meta string) *ml.Node {
	return &ml.Node{Name: name, Addr: net.ParseIP("10.0.0.1"), Port: 7946, Meta: []byte(meta)}
}

func TestGroup(t *testing.T) {
	got := memberlist.Group([]*ml.Node{
		node("n2", `{"service":"emp","port":8080,"version":"1.2.0"}`),
		node("n1", `{"service":"emp","metadata":{"zone":"a"}}`),
		node("n3", `{"service":"payroll"}`),
		node("bare", ``),
		node("junk", `{`),
		node("anon", `{"port":1}`),
		nil,
	})

	require.Len(t, got, 2)
	require.Len(t, got["emp"], 2)

	n1 := got["emp"][0]
	require.Equal(t, "n1", n1.ID)
	require.Equal(t, "10.0.0.1", n1.Host)
	require.Equal(t, 7946, n1.Port)
	require.Equal(t, map[string]string{"node": "n1", "zone": "a"}, n1.Metadata)
	require.NoError(t, n1.Validate())

	n2 := got["emp"][1]
	require.Equal(t, 8080, n2.Port)
	require.Equal(t, "1.2.0", n2.Version)

	require.Equal(t, "payroll", got["payroll"][0].ServiceName)
}

func TestGroup_FeedsRegistry(t *testing.T) {
	r := servicepool.NewRegistry()

	r.Sync(memberlist.Group([]*ml.Node{
		node("a", `{"service":"emp"}`),
		node("b", `{"service":"emp"}`),
	}))
	require.Equal(t, 2, r.Pool("emp").Size())

	changed := r.Sync(memberlist.Group([]*ml.Node{node("b", `{"service":"emp"}`)}))
	require.Equal(t, []string{"emp"}, changed)
	require.Equal(t, 1, r.Pool("emp").Size())
}

func TestWatcher_MetaTooLarge(t *testing.T) {
	big := make(map[string]string)
	for i := range 100 {
		big[string(rune('a'+i%26))+string(rune('a'+i/26))] = "0123456789"
	}

	w := memberlist.New(memberlist.Config{
		NodeName: "big",
		BindAddr: "127.0.0.1",
		Profile:  memberlist.ProfileLocal,
		Meta:     memberlist.Meta{Service: "emp", Metadata: big},
	}, servicepool.NewRegistry())

	require.Error(t, w.Start())
	require.NoError(t, w.Stop(t.Context()))
}

func TestWatcher_TwoNodes(t *testing.T) {
	if testing.Short() {
		t.Skip("gossip cluster")
	}

	reg1, reg2 := servicepool.NewRegistry(), servicepool.NewRegistry()

	w1 := memberlist.New(memberlist.Config{
		NodeName: "emp-1",
		BindAddr: "127.0.0.1",
		Profile:  memberlist.ProfileLocal,
		Meta:     memberlist.Meta{Service: "emp", Port: 8080},
	}, reg1)
	require.NoError(t, w1.Start())
	t.Cleanup(func() { _ = w1.Stop(t.Context()) })

	addr, err := w1.Addr()
	require.NoError(t, err)

	w2 := memberlist.New(memberlist.Config{
		NodeName:     "payroll-1",
		BindAddr:     "127.0.0.1",
		Profile:      memberlist.ProfileLocal,
		Join:         []string{addr},
		LeaveTimeout: 500 * time.Millisecond,
		Meta:         memberlist.Meta{Service: "payroll", Port: 9090},
	}, reg2)
	require.NoError(t, w2.Start())

	require.Eventually(t, func() bool {
		p, ok := reg1.Lookup("payroll")
		return ok && p.Size() == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		p, ok := reg2.Lookup("emp")
		return ok && p.Size() == 1
	}, 5*time.Second, 20*time.Millisecond)

	d, ok := reg1.Pool("payroll").Pick()
	require.True(t, ok)
	require.Equal(t, "payroll-1", d.ID)
	require.Equal(t, 9090, d.Port)

	require.NoError(t, w2.Stop(t.Context()))

	require.Eventually(t, func() bool {
		return reg1.Pool("payroll").Size() == 0
	}, 5*time.Second, 20*time.Millisecond)
}
