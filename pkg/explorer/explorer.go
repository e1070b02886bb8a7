package explorer

import (
	"embed"
	"html/template"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
)

//go:embed templates/*.html
var templateFS embed.FS

// recentLimit caps the transfers shown on the index page.
const recentLimit = 50

// HolderData represents one account row on the index page
type HolderData struct {
	Address string
	Balance uint64
}

// IndexData is rendered by index.html
type IndexData struct {
	Meta      tokens.Metadata
	Holders   []HolderData
	Transfers []tokens.Transfer
	Count     uint64
}

// AccountData is rendered by account.html
type AccountData struct {
	Meta      tokens.Metadata
	Address   string
	Balance   uint64
	Transfers []tokens.Transfer
}

// Explorer holds the ledger and renders a read-only web view of it
type Explorer struct {
	Ledger    *tokens.Ledger
	templates *template.Template
	log       *zap.Logger
	prefix    string
}

// NewExplorer initializes the explorer served under prefix (e.g. "/explorer/").
func NewExplorer(l *tokens.Ledger, prefix string, log *zap.Logger) *Explorer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Explorer{
		Ledger:    l,
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		log:       log,
		prefix:    prefix,
	}
}

// ServeHTTP routes "<prefix>" to the index and "<prefix>account/<addr>" to
// an account page.
func (e *Explorer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, e.prefix)
	switch {
	case path == "" || path == "index.html":
		e.renderIndex(w)
	case strings.HasPrefix(path, "account/"):
		e.renderAccount(w, r, strings.TrimPrefix(path, "account/"))
	default:
		http.NotFound(w, r)
	}
}

func (e *Explorer) renderIndex(w http.ResponseWriter) {
	holders := e.Ledger.Holders()
	rows := make([]HolderData, 0, len(holders))
	for addr, bal := range holders {
		rows = append(rows, HolderData{Address: addr.String(), Balance: bal})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Balance != rows[j].Balance {
			return rows[i].Balance > rows[j].Balance
		}
		return rows[i].Address < rows[j].Address
	})

	count := e.Ledger.Len()
	var since uint64
	if count > recentLimit {
		since = count - recentLimit
	}
	recent := e.Ledger.Transfers(since)
	reverse(recent)

	e.execute(w, "index.html", IndexData{
		Meta:      e.Ledger.Metadata(),
		Holders:   rows,
		Transfers: recent,
		Count:     count,
	})
}

func (e *Explorer) renderAccount(w http.ResponseWriter, r *http.Request, raw string) {
	addr, err := wallet.ParseAddress(raw)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var mine []tokens.Transfer
	for _, rec := range e.Ledger.Transfers(0) {
		if rec.From == addr || rec.To == addr {
			mine = append(mine, rec)
		}
	}
	reverse(mine)

	e.execute(w, "account.html", AccountData{
		Meta:      e.Ledger.Metadata(),
		Address:   addr.String(),
		Balance:   e.Ledger.BalanceOf(addr),
		Transfers: mine,
	})
}

func (e *Explorer) execute(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := e.templates.ExecuteTemplate(w, name, data); err != nil {
		e.log.Error("template execution error", zap.String("template", name), zap.Error(err))
		http.Error(w, "Failed to render template", http.StatusInternalServerError)
	}
}

func reverse(recs []tokens.Transfer) {
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
}
