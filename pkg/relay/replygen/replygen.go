// Package replygen drafts the agent's conversational replies. The session
// core consumes it as a token stream; failures are absorbed with a fixed
// apology instead of ending the call.
package replygen

import (
	"context"
	"fmt"
	"strings"

	"github.com/mr-web-x/collectrelay/pkg/relay/dialog"
)

// Apology is spoken verbatim when reply generation fails. The session keeps
// running; escalation state is untouched.
const Apology = "Ospravedlňujem sa, nastala technická chyba. Môžete to prosím zopakovať?"

// Request carries everything a generator needs for one turn. Dialog already
// contains the current utterance as its last client turn.
type Request struct {
	Utterance string
	Dialog    []dialog.Turn
	Profile   dialog.BorrowerProfile
	// TacticHint, when set, steers the generated reply toward the canned
	// escalation phrasing without replacing generation outright.
	TacticHint string
}

// TokenStream yields reply fragments in production order. Recv returns
// io.EOF when the reply is complete.
type TokenStream interface {
	Recv() (string, error)
}

type Generator interface {
	Generate(ctx context.Context, req Request) (TokenStream, error)
}

const personaPrompt = "Si hlasová agentka Lenka z oddelenia vymáhania pohľadávok. " +
	"Komunikuješ výhradne po slovensky, zdvorilo ale vytrvalo. " +
	"Cieľom je konkrétny záväzok: suma v EUR a dátum platby. " +
	"Odpovedaj stručne, jednou až dvoma vetami, bez formátovania - text ide priamo do syntézy reči."

// systemPrompt renders the persona plus whatever borrower facts are known.
func systemPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(personaPrompt)

	p := req.Profile
	if p.Name != "" {
		fmt.Fprintf(&b, "\nKlient: %s.", p.Name)
	}
	if p.Principal != "" {
		fmt.Fprintf(&b, "\nPôvodná výška úveru: %s.", p.Principal)
	}
	if p.TermMonths > 0 {
		fmt.Fprintf(&b, "\nDoba splácania: %d mesiacov.", p.TermMonths)
	}
	if p.OverdueDays > 0 {
		fmt.Fprintf(&b, "\nPo splatnosti: %d dní.", p.OverdueDays)
	}
	if p.AmountDue != "" {
		fmt.Fprintf(&b, "\nAktuálna dlžná suma: %s.", p.AmountDue)
	}

	if hint := strings.TrimSpace(req.TacticHint); hint != "" {
		fmt.Fprintf(&b, "\nKlient opakovane odpovedá vyhýbavo. Odpovedz v duchu: %q", hint)
	}
	return b.String()
}
