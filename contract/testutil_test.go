package contract

import (
	"crypto/x509"
	"fmt"
	"testing"
	"time"

	"github.com/hyperledger/fabric-chaincode-go/shimtest"
	"github.com/hyperledger/fabric-contract-api-go/contractapi"
	"github.com/hyperledger/fabric-protos-go/peer"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Full X.509 IDs for the test cast. The CN doubles as the registered alias.
const (
	adminID = "x509::CN=platform-admin::O=AgroMarket"
	aliceID = "x509::CN=alice::O=GreenValleyFarm"
	bobID   = "x509::CN=bob::O=FreshRouteDistribution"
	caraID  = "x509::CN=cara::O=CityMarketRetail"
	inezID  = "x509::CN=inez::O=AgriCertLabs"
)

// fakeClientIdentity satisfies cid.ClientIdentity for driving the contract
// directly against a MockStub.
type fakeClientIdentity struct {
	id    string
	mspID string
}

func (f *fakeClientIdentity) GetID() (string, error)    { return f.id, nil }
func (f *fakeClientIdentity) GetMSPID() (string, error) { return f.mspID, nil }
func (f *fakeClientIdentity) GetAttributeValue(string) (string, bool, error) {
	return "", false, nil
}
func (f *fakeClientIdentity) AssertAttributeValue(string, string) error { return nil }
func (f *fakeClientIdentity) GetX509Certificate() (*x509.Certificate, error) {
	return nil, nil
}

// testHarness wires a contract instance to a MockStub with a controllable
// clock and caller identity. Each mutating call runs inside its own mock
// transaction, matching how operations execute one invocation at a time.
type testHarness struct {
	t        *testing.T
	stub     *shimtest.MockStub
	ctx      *contractapi.TransactionContext
	contract *AgroMarketSmartContract
	now      time.Time
	txCount  int
}

func newHarness(t *testing.T) *testHarness {
	stub := shimtest.NewMockStub("agromarket", nil)
	ctx := &contractapi.TransactionContext{}
	ctx.SetStub(stub)
	h := &testHarness{
		t:        t,
		stub:     stub,
		ctx:      ctx,
		contract: &AgroMarketSmartContract{},
		now:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.stub.TxTimestamp = timestamppb.New(h.now)
	return h
}

// as sets the caller identity for subsequent calls.
func (h *testHarness) as(fullID string) *testHarness {
	h.ctx.SetClientIdentity(&fakeClientIdentity{id: fullID, mspID: "AgroMarketMSP"})
	return h
}

// tx runs fn inside a mock transaction so PutState calls are accepted.
func (h *testHarness) tx(fn func() error) error {
	h.txCount++
	txID := fmt.Sprintf("tx%04d", h.txCount)
	h.stub.MockTransactionStart(txID)
	// MockTransactionStart resets TxTimestamp to the real wall clock, so the
	// harness clock must be applied after it.
	h.stub.TxTimestamp = timestamppb.New(h.now)
	err := fn()
	h.stub.MockTransactionEnd(txID)
	return err
}

func (h *testHarness) mustTx(fn func() error) {
	h.t.Helper()
	require.NoError(h.t, h.tx(fn))
}

// advance moves the harness clock forward for the next transaction.
func (h *testHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
	h.stub.TxTimestamp = timestamppb.New(h.now)
}

func (h *testHarness) rfc3339(t time.Time) string {
	return t.Format(time.RFC3339)
}

// bootstrap initializes the ledger and registers the standard test cast:
// the bootstrap admin plus one identity per role.
func (h *testHarness) bootstrap() {
	h.t.Helper()
	h.as(adminID)
	h.mustTx(func() error { return h.contract.BootstrapLedger(h.ctx) })
	h.registerParticipant(aliceID, "alice", "farmer")
	h.registerParticipant(bobID, "bob", "distributor")
	h.registerParticipant(caraID, "cara", "retailer")
	h.registerParticipant(inezID, "inez", "inspector")
}

func (h *testHarness) registerParticipant(fullID, alias, role string) {
	h.t.Helper()
	h.as(adminID)
	h.mustTx(func() error { return h.contract.RegisterIdentity(h.ctx, fullID, alias) })
	if role != "" {
		h.mustTx(func() error { return h.contract.AssignRoleToIdentity(h.ctx, alias, role) })
	}
}

func (h *testHarness) fund(alias string, amount uint64) {
	h.t.Helper()
	h.as(adminID)
	h.mustTx(func() error { return h.contract.FundAccount(h.ctx, alias, amount) })
}

func (h *testHarness) balance(alias string) uint64 {
	h.t.Helper()
	bal, err := h.contract.GetBalance(h.ctx, alias)
	require.NoError(h.t, err)
	return bal
}

// drainEvents empties the mock event channel and returns what was emitted
// since the last drain.
func (h *testHarness) drainEvents() []*peer.ChaincodeEvent {
	events := []*peer.ChaincodeEvent{}
	for {
		select {
		case ev := <-h.stub.ChaincodeEventsChannel:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func (h *testHarness) lastEvent() *peer.ChaincodeEvent {
	h.t.Helper()
	events := h.drainEvents()
	require.NotEmpty(h.t, events, "expected at least one chaincode event")
	return events[len(events)-1]
}
