package network

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"weatherstation-go/services/notify"
)

var formPage = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html><head><meta name="viewport" content="width=device-width,initial-scale=1"><title>{{.ID}}</title></head>
<body><h1>{{.ID}}</h1>
<form method="POST" action="/save">
<label>Network <input name="ssid" list="networks" required></label>
<datalist id="networks">{{range .Networks}}<option value="{{.}}">{{end}}</datalist><br>
<label>Password <input name="password" type="password"></label><br>
<label>Shared secret <input name="secret" type="password" maxlength="{{.Max}}"></label><br>
<button type="submit">Save</button>
</form></body></html>
`))

var savedPage = template.Must(template.New("saved").Parse(`<!DOCTYPE html>
<html><body><p>Saved. {{.}} is connecting; this access point will go away.</p></body></html>
`))

// Portal is the provisioning web form served while the access point is up.
type Portal struct {
	addr     string
	id       string
	networks []string
	n        *notify.Notifier

	subs chan Submission
	srv  *http.Server
	ln   net.Listener
}

func NewPortal(addr, deviceID string, networks []string, n *notify.Notifier) *Portal {
	return &Portal{
		addr:     addr,
		id:       deviceID,
		networks: networks,
		n:        n,
		subs:     make(chan Submission, 1),
	}
}

// Handler exposes the routes for testing.
func (p *Portal) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(p.logRequests)
	r.HandleFunc("/", p.handleForm).Methods(http.MethodGet)
	r.HandleFunc("/save", p.handleSave).Methods(http.MethodPost)
	// Captive-portal probes land on unknown paths; send them to the form.
	r.NotFoundHandler = http.RedirectHandler("/", http.StatusFound)
	return r
}

func (p *Portal) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.n.Info("*PORTAL:", notify.Str("["+r.Method+"]"+r.RequestURI), notify.Str("from "+r.RemoteAddr))
		next.ServeHTTP(w, r)
	})
}

func (p *Portal) handleForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = formPage.Execute(w, struct {
		ID       string
		Networks []string
		Max      int
	}{p.id, p.networks, MaxSecretLen})
}

func (p *Portal) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form", http.StatusBadRequest)
		return
	}
	sub := Submission{
		SSID:   r.PostFormValue("ssid"),
		Pass:   r.PostFormValue("password"),
		Secret: r.PostFormValue("secret"),
	}
	if sub.SSID == "" {
		http.Error(w, "network name required", http.StatusBadRequest)
		return
	}
	if len(sub.Secret) > MaxSecretLen {
		http.Error(w, "shared secret too long", http.StatusBadRequest)
		return
	}
	// Keep only the latest submission if the manager is still busy.
	select {
	case p.subs <- sub:
	default:
		select {
		case <-p.subs:
		default:
		}
		select {
		case p.subs <- sub:
		default:
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = savedPage.Execute(w, p.id)
}

func (p *Portal) Submissions() <-chan Submission { return p.subs }

func (p *Portal) Start() error {
	ln, err := net.Listen("tcp", p.addr)
	if err != nil {
		return err
	}
	p.ln = ln
	p.srv = &http.Server{Handler: p.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.n.Info("*PORTAL: serve:", notify.Err(err))
		}
	}()
	return nil
}

// Addr is the bound listen address once started.
func (p *Portal) Addr() string {
	if p.ln == nil {
		return p.addr
	}
	return p.ln.Addr().String()
}

func (p *Portal) Close(ctx context.Context) error {
	if p.srv == nil {
		return nil
	}
	return p.srv.Shutdown(ctx)
}
