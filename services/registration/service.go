package registration

import (
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"attendbot-backend/lib/telemetry"
	"attendbot-backend/lib/vault"
	"attendbot-backend/services/accounts"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

var tracer = telemetry.Tracer("attendbot.services.registration")

// CollegeIDSuffix is the only portal id domain registrations accept.
const CollegeIDSuffix = "@niet.co.in"

var validate = validator.New()

type formInput struct {
	CollegeID string `validate:"required,endswith=@niet.co.in"`
	Password  string `validate:"required"`
	Email     string `validate:"required,email"`
}

// validateForm returns a banner-ready message for the first failing
// field, or nil.
func validateForm(input formInput) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	ve, ok := err.(validator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return fmt.Errorf("validation failed: %w", err)
	}
	switch field := ve[0]; field.Field() {
	case "CollegeID":
		return fmt.Errorf("college id must end with %s", CollegeIDSuffix)
	case "Password":
		return fmt.Errorf("portal password is required")
	case "Email":
		return fmt.Errorf("a valid destination email is required")
	default:
		return fmt.Errorf("validation failed: %s", field.Field())
	}
}

// Service serves the self-registration form and writes vault-sealed
// credentials into the account store.
type Service struct {
	store accounts.Store
	vault vault.Vault
}

func NewService(store accounts.Store, v vault.Vault) Service {
	return Service{store: store, vault: v}
}

func (s Service) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Get("/", s.handleForm)
	router.Post("/", s.handleSubmit)
	return router
}

type pageData struct {
	Banner  string
	IsError bool
	// re-filled on error so the user only fixes the bad field
	CollegeID string
	Email     string
}

func (s Service) handleForm(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, http.StatusOK, pageData{})
}

func (s Service) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "registration:handleSubmit")
	defer span.End()

	err := r.ParseForm()
	if err != nil {
		s.renderPage(w, http.StatusBadRequest, pageData{
			Banner: "Could not read the submitted form.", IsError: true,
		})
		return
	}

	input := formInput{
		CollegeID: strings.ToLower(strings.TrimSpace(r.PostFormValue("college_id"))),
		Password:  r.PostFormValue("password"),
		Email:     strings.TrimSpace(r.PostFormValue("email")),
	}

	err = validateForm(input)
	if err != nil {
		s.renderPage(w, http.StatusUnprocessableEntity, pageData{
			Banner:    err.Error(),
			IsError:   true,
			CollegeID: input.CollegeID,
			Email:     input.Email,
		})
		return
	}

	sealed, err := s.vault.Encrypt(input.Password)
	if err != nil {
		slog.ErrorContext(ctx, "failed to seal password", "err", err)
		s.renderPage(w, http.StatusInternalServerError, pageData{
			Banner: "Something went wrong on our side, please try again.", IsError: true,
		})
		return
	}

	err = s.store.Upsert(ctx, accounts.User{
		CollegeID:     input.CollegeID,
		EncryptedPass: sealed,
		TargetEmail:   input.Email,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to save registration", "college_id", input.CollegeID, "err", err)
		s.renderPage(w, http.StatusInternalServerError, pageData{
			Banner: "Something went wrong on our side, please try again.", IsError: true,
		})
		return
	}

	slog.InfoContext(ctx, "registered user", "college_id", input.CollegeID)
	s.renderPage(w, http.StatusOK, pageData{
		Banner: fmt.Sprintf("You're in. Daily reports for %s will go to %s.", input.CollegeID, input.Email),
	})
}

func (s Service) renderPage(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	err := formTemplate.Execute(w, data)
	if err != nil {
		slog.Error("failed to render registration page", "err", err)
	}
}

var formTemplate = template.Must(template.New("register").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<title>Attendance Report Signup</title>
<style>
body { font-family: Arial, Helvetica, sans-serif; background: #f4f4f7; margin: 0; }
.card { max-width: 420px; margin: 48px auto; background: #fff; border-radius: 8px; padding: 32px; box-shadow: 0 1px 4px rgba(0,0,0,0.12); }
h1 { font-size: 20px; margin-top: 0; }
label { display: block; margin: 16px 0 4px; font-size: 14px; color: #333; }
input { width: 100%; box-sizing: border-box; padding: 10px; border: 1px solid #ccc; border-radius: 4px; font-size: 14px; }
button { margin-top: 24px; width: 100%; padding: 12px; border: 0; border-radius: 4px; background: #388E3C; color: #fff; font-size: 15px; cursor: pointer; }
.banner { padding: 12px; border-radius: 4px; font-size: 14px; margin-bottom: 8px; }
.banner.ok { background: #e8f5e9; color: #2e7d32; }
.banner.err { background: #fdecea; color: #c62828; }
.note { font-size: 12px; color: #777; margin-top: 16px; }
</style>
</head>
<body>
<div class="card">
<h1>Daily attendance reports</h1>
{{if .Banner}}<div class="banner {{if .IsError}}err{{else}}ok{{end}}">{{.Banner}}</div>{{end}}
<form method="post" action="/">
<label for="college_id">College id</label>
<input type="text" id="college_id" name="college_id" placeholder="0221001@niet.co.in" value="{{.CollegeID}}">
<label for="password">Portal password</label>
<input type="password" id="password" name="password">
<label for="email">Send reports to</label>
<input type="email" id="email" name="email" placeholder="you@example.com" value="{{.Email}}">
<button type="submit">Sign me up</button>
</form>
<p class="note">Your password is encrypted before it is stored and is only used to read your attendance page. Registering again updates your details.</p>
</div>
</body>
</html>
`))
