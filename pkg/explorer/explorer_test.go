package explorer

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
)

func addr(b byte) wallet.Address {
	var a wallet.Address
	a[0] = b
	return a
}

func serve(e *Explorer, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestIndex(t *testing.T) {
	creator, holder := addr(1), addr(2)
	l := tokens.NewLedger(creator)
	_, err := l.Transfer(creator, holder, 12345)
	require.NoError(t, err)

	e := NewExplorer(l, "/explorer/", nil)
	rec := serve(e, "/explorer/")

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, tokens.DefaultName)
	assert.Contains(t, body, creator.String())
	assert.Contains(t, body, holder.String())
	assert.Contains(t, body, "12345")
}

func TestAccount(t *testing.T) {
	creator, holder := addr(1), addr(2)
	l := tokens.NewLedger(creator)
	_, err := l.Transfer(creator, holder, 77)
	require.NoError(t, err)

	e := NewExplorer(l, "/explorer/", nil)

	rec := serve(e, "/explorer/account/"+holder.String())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Balance: 77")

	rec = serve(e, "/explorer/account/bogus")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(e, "/explorer/nothing-here")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
