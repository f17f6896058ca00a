package page

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"

	"github.com/metalinked/metalinked/internal/portal"
)

const (
	pageTitleText  = "Web 3.0 LinkedIn"
	pageHeaderText = "Web 3.0 LinkedIn"
)

// Data captures the state needed to render the portal page.
type Data struct {
	Snapshot  portal.Snapshot
	HasWallet bool
}

// Render assembles the HTML output using the embedded assets and templates.
func Render(pageData Data) (string, error) {
	cssText, err := embeddedText(embeddedBaseCSSPath)
	if err != nil {
		return "", err
	}
	jsText, err := embeddedText(embeddedAppJSPath)
	if err != nil {
		return "", err
	}
	stateJSON, err := json.Marshal(pageData.Snapshot)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	viewModel := newPageViewModel(pageData, cssText, jsText, string(stateJSON))
	tmpl, err := parseTemplates(embeddedFS, templateIndexFile)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}
	var buffer bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buffer, templateIndexName, viewModel); err != nil {
		return "", fmt.Errorf("template execute: %w", err)
	}
	return buffer.String(), nil
}

type pageViewModel struct {
	Title  string
	Header string

	Phase     string
	Connected bool
	Posting   bool
	Loading   bool
	HasWallet bool

	Account         string
	Draft           portal.ProfileDraft
	Profiles        []profileCardViewModel
	TotalProfiles   uint64
	LastTransaction string

	ExternalLink   string
	ExternalHandle string

	StateJSON template.JS
	CSS       template.CSS
	JS        template.JS
}

type profileCardViewModel struct {
	Label  string
	URL    string
	Poster string
	Posted string
}

func newPageViewModel(pageData Data, cssText string, jsText string, stateJSON string) pageViewModel {
	snapshot := pageData.Snapshot
	viewModel := pageViewModel{
		Title:           pageTitleText,
		Header:          pageHeaderText,
		Phase:           snapshot.Phase.String(),
		Connected:       snapshot.IsConnected(),
		Posting:         snapshot.IsPosting(),
		Loading:         snapshot.IsLoading(),
		HasWallet:       pageData.HasWallet,
		Account:         string(snapshot.Account),
		Draft:           snapshot.Draft,
		TotalProfiles:   snapshot.TotalProfiles,
		LastTransaction: snapshot.LastTransaction,
		ExternalLink:    snapshot.ExternalLink,
		ExternalHandle:  externalHandle(snapshot.ExternalLink),
		StateJSON:       template.JS(stateJSON),
		CSS:             template.CSS(cssText),
		JS:              template.JS(jsText),
	}
	if len(snapshot.Profiles) == 0 {
		return viewModel
	}
	viewModel.Profiles = make([]profileCardViewModel, 0, len(snapshot.Profiles))
	for _, profile := range snapshot.Profiles {
		viewModel.Profiles = append(viewModel.Profiles, profileCardViewModel{
			Label:  profileLabel(profile.Name),
			URL:    profile.URL,
			Poster: string(profile.PosterAddress),
			Posted: profile.Timestamp.UTC().Format(timestampLayout),
		})
	}
	return viewModel
}
