package auth

import (
	"testing"

	"github.com/xrclabs/authd/internal/model"
)

func TestPolicy_Evaluate(t *testing.T) {
	cases := []struct {
		name    string
		mode    PolicyMode
		account *model.Account
		hwid    string
		want    Outcome
	}{
		{
			name:    "nil account is rejected regardless of mode",
			mode:    ModeRebind,
			account: nil,
			hwid:    "HWID-1",
			want:    OutcomeReject,
		},
		{
			name:    "nil account is rejected in flag mode too",
			mode:    ModeFlag,
			account: nil,
			hwid:    "HWID-1",
			want:    OutcomeReject,
		},
		{
			name:    "empty stored hwid binds on first login",
			mode:    ModeRebind,
			account: &model.Account{DiscordID: "1", HWID: ""},
			hwid:    "HWID-1",
			want:    OutcomeBind,
		},
		{
			name:    "empty stored hwid binds even in flag mode",
			mode:    ModeFlag,
			account: &model.Account{DiscordID: "1", HWID: ""},
			hwid:    "HWID-1",
			want:    OutcomeBind,
		},
		{
			name:    "matching hwid is accepted",
			mode:    ModeRebind,
			account: &model.Account{DiscordID: "1", HWID: "HWID-1"},
			hwid:    "HWID-1",
			want:    OutcomeAccept,
		},
		{
			name:    "mismatch rebinds in rebind mode",
			mode:    ModeRebind,
			account: &model.Account{DiscordID: "1", HWID: "HWID-OLD"},
			hwid:    "HWID-NEW",
			want:    OutcomeBind,
		},
		{
			name:    "mismatch is flagged in flag mode",
			mode:    ModeFlag,
			account: &model.Account{DiscordID: "1", HWID: "HWID-OLD"},
			hwid:    "HWID-NEW",
			want:    OutcomeFlag,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Policy{Mode: tc.mode}
			if got := p.Evaluate(tc.account, tc.hwid); got != tc.want {
				t.Errorf("Evaluate() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPolicy_EvaluateDoesNotMutateAccount(t *testing.T) {
	account := &model.Account{DiscordID: "1", HWID: "HWID-OLD"}
	p := Policy{Mode: ModeRebind}

	p.Evaluate(account, "HWID-NEW")

	if account.HWID != "HWID-OLD" {
		t.Errorf("HWID = %q, Evaluate must not mutate the record", account.HWID)
	}
}
