package nasdaq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nasdaqListedSample = `Symbol|Security Name|Market Category|Test Issue|Financial Status|Round Lot Size|ETF|NextShares
AAPL|Apple Inc. - Common Stock|Q|N|N|100|N|N
QQQ|Invesco QQQ Trust, Series 1|G|N|N|100|Y|N
ZTEST|Nasdaq Test Stock|Q|Y|N|100|N|N
File Creation Time: 0828202521:30|||||||
`

const otherListedSample = `ACT Symbol|Security Name|Exchange|CUSIP|ETF|Round Lot Size|Test Issue|NASDAQ Symbol
IBM|International Business Machines Corporation|N|459200101|N|100|N|IBM
SPY|SPDR S&P 500 ETF Trust|P|78462F103|Y|100|N|SPY
AMC|AMC Entertainment Holdings|A|00165C302|N|100|N|AMC
File Creation Time: 0828202521:30|||||||
`

func serveFeed(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestFetchListingsNasdaqFeed(t *testing.T) {
	client := NewClient(zerolog.New(nil).Level(zerolog.Disabled))

	rows, err := client.FetchListings(context.Background(), serveFeed(t, nasdaqListedSample))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "AAPL", rows[0].Symbol)
	assert.Equal(t, "Apple Inc. - Common Stock", rows[0].SecurityName)
	assert.Equal(t, "Q", rows[0].MarketCategory)
	assert.Equal(t, "N", rows[0].FinancialStatus)
	assert.False(t, rows[0].ETF)
	assert.False(t, rows[0].TestIssue)

	assert.True(t, rows[1].ETF)
	assert.True(t, rows[2].TestIssue)
}

func TestFetchListingsOtherFeed(t *testing.T) {
	client := NewClient(zerolog.New(nil).Level(zerolog.Disabled))

	rows, err := client.FetchListings(context.Background(), serveFeed(t, otherListedSample))
	require.NoError(t, err)
	require.Len(t, rows, 3)

	// Symbol resolved from the ACT Symbol column
	assert.Equal(t, "IBM", rows[0].Symbol)
	assert.Equal(t, "N", rows[0].ExchangeCode)
	assert.Equal(t, "NYSE", rows[0].Exchange("NYSE"))

	assert.Equal(t, "NYSE_ARCA", rows[1].Exchange("NYSE"))
	assert.True(t, rows[1].ETF)

	assert.Equal(t, "NYSE_AMERICAN", rows[2].Exchange("NYSE"))
}

func TestExchangeFallback(t *testing.T) {
	row := ListingRow{ExchangeCode: ""}
	assert.Equal(t, "NASDAQ", row.Exchange("NASDAQ"))

	row.ExchangeCode = "X"
	assert.Equal(t, "NYSE", row.Exchange("NYSE"))
}

func TestFetchListingsServerError(t *testing.T) {
	client := NewClient(zerolog.New(nil).Level(zerolog.Disabled))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := client.FetchListings(context.Background(), srv.URL)
	assert.Error(t, err)
}
