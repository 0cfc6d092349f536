package provider

import (
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/stretchr/testify/assert"
)

// newFakeRPCServer returns a fake RPC server which answers eth_chainId with chainIDHex and
// every other method (eth_blockNumber included) with "0x1".
//
// When the test is done, the server is closed automatically.
func newFakeRPCServer(t *testing.T, chainIDHex string) *httptest.Server {
	t.Helper()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)

		result := "0x1"
		if strings.Contains(string(body), `"eth_chainId"`) {
			result = chainIDHex
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%q}`, result)
	})

	srv := httptest.NewServer(handler)

	t.Cleanup(func() {
		srv.Close()
	})

	return srv
}

// alwaysFailingSignerGenerator is a SignerGenerator whose Generate always fails.
type alwaysFailingSignerGenerator struct {
	SignerGenerator
}

func (alwaysFailingSignerGenerator) Generate(chainID *big.Int) (*bind.TransactOpts, error) {
	return nil, assert.AnError
}
