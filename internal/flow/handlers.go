package flow

import (
	"context"
	"time"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/browser"
	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
)

// Selector constants shared by the step handlers. Kept together so a page
// revision is a one-file fix.
const (
	selSignupLink     = `a[href*="sign-up"]`
	selEmailInput     = `input[name="email"]`
	selFirstNameInput = `input[name="first_name"]`
	selLastNameInput  = `input[name="last_name"]`
	selPasswordInput  = `input[name="password"]`
	selCodeInput      = `input[name="code"]`
	selPhoneInput     = `input[type="tel"]`
	selSubmitButton   = `button[type="submit"]`
	selEmailCodeLink  = `button[data-action="email-code"]`
	selSendSMSButton  = `button[data-action="send-code"]`
	selSkipLink       = `a[data-action="skip"]`
	selUsageOption    = `[data-testid="usage-option"]`
	selTrialButton    = `button[data-action="start-trial"]`
	selCardNumber     = `input[name="cardNumber"]`
	selCardExpiry     = `input[name="cardExpiry"]`
	selCardCVC        = `input[name="cardCvc"]`
	selBillingName    = `input[name="billingName"]`

	controlWait = 10 * time.Second
)

// handleLogin leaves the sign-in page toward signup; batches always create
// fresh accounts.
func (e *Executor) handleLogin(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	if visible, _ := tab.WaitVisible(ctx, selSignupLink, controlWait); !visible {
		task.Outcome = "signup link not found on login page"
		return false
	}

	if err := tab.Click(ctx, selSignupLink); err != nil {
		task.Outcome = "failed to open signup form"
		return false
	}

	return e.awaitLeave(ctx, tab, StateLogin, leaveTimeout)
}

// handleSignupFirstLevel fills the identity form. The variant decides what
// happens after submission: password-first continues to password creation,
// code-first requests a one-time email code directly.
func (e *Executor) handleSignupFirstLevel(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	if visible, _ := tab.WaitVisible(ctx, selEmailInput, controlWait); !visible {
		task.Outcome = "signup form never appeared"
		return false
	}

	acct := task.Account
	if err := tab.Type(ctx, selFirstNameInput, acct.FirstName); err != nil {
		task.Outcome = "failed to enter first name"
		return false
	}
	if err := tab.Type(ctx, selLastNameInput, acct.LastName); err != nil {
		task.Outcome = "failed to enter last name"
		return false
	}
	if err := tab.Type(ctx, selEmailInput, acct.Email); err != nil {
		task.Outcome = "failed to enter email"
		return false
	}

	if e.deps.Flow.Variant == "code-first" {
		if visible, _ := tab.WaitVisible(ctx, selEmailCodeLink, 3*time.Second); visible {
			if err := tab.Click(ctx, selEmailCodeLink); err == nil {
				return e.awaitLeave(ctx, tab, StateSignupFirstLevel, leaveTimeout)
			}
		}
		// fall through to the regular submit when the code shortcut is absent
	}

	if err := tab.Click(ctx, selSubmitButton); err != nil {
		task.Outcome = "failed to submit signup form"
		return false
	}

	return e.awaitLeave(ctx, tab, StateSignupFirstLevel, leaveTimeout)
}

// handlePassword enters the account password on the sign-in password page.
func (e *Executor) handlePassword(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	return e.submitPassword(ctx, tab, task, StatePassword)
}

// handleSignupPassword sets the password during signup.
func (e *Executor) handleSignupPassword(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	return e.submitPassword(ctx, tab, task, StateSignupPassword)
}

func (e *Executor) submitPassword(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask, from SignupState) bool {
	if visible, _ := tab.WaitVisible(ctx, selPasswordInput, controlWait); !visible {
		task.Outcome = "password field never appeared"
		return false
	}

	if err := tab.Type(ctx, selPasswordInput, task.Account.Password); err != nil {
		task.Outcome = "failed to enter password"
		return false
	}
	if err := tab.Click(ctx, selSubmitButton); err != nil {
		task.Outcome = "failed to submit password"
		return false
	}

	return e.awaitLeave(ctx, tab, from, leaveTimeout)
}

// handleMagicCode pulls the one-time code from the mailbox and submits it.
// The mailbox session is anchored at the task start so mail from an earlier
// attempt at the same address can never satisfy this step.
func (e *Executor) handleMagicCode(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	if visible, _ := tab.WaitVisible(ctx, selCodeInput, controlWait); !visible {
		task.Outcome = "code input never appeared"
		return false
	}

	session := domain.MailboxSession{
		Address:   task.Account.Email,
		StartedAt: task.StartedAt,
	}

	e.report(task, "waiting for email verification code")
	code, ok := e.deps.Mail.GetCode(ctx, session, e.deps.MailTimeout)
	if !ok {
		if e.cancelled(ctx) {
			task.Outcome = "cancelled"
			return false
		}
		task.Outcome = "email verification code never arrived"
		return false
	}

	if err := tab.Type(ctx, selCodeInput, code); err != nil {
		task.Outcome = "failed to enter email code"
		return false
	}

	// Some revisions auto-submit on the last digit; the explicit click is a
	// no-op then.
	_ = tab.Click(ctx, selSubmitButton)

	return e.awaitLeave(ctx, tab, StateMagicCode, leaveTimeout)
}

// handlePhoneVerification acquires a number, requests the SMS, and submits
// the received code. Usage is recorded only after the page accepts the code.
func (e *Executor) handlePhoneVerification(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	if e.deps.Flow.SkipPhone {
		if visible, _ := tab.WaitVisible(ctx, selSkipLink, 3*time.Second); visible {
			if err := tab.Click(ctx, selSkipLink); err == nil {
				return e.awaitLeave(ctx, tab, StatePhoneVerification, leaveTimeout)
			}
		}
		// no skip control on this revision; verify anyway
	}

	if visible, _ := tab.WaitVisible(ctx, selPhoneInput, controlWait); !visible {
		task.Outcome = "phone input never appeared"
		return false
	}

	number, _, err := e.deps.Phone.Acquire(ctx)
	if err != nil {
		task.Outcome = "no verification number available"
		return false
	}

	if err := tab.Type(ctx, selPhoneInput, number); err != nil {
		task.Outcome = "failed to enter phone number"
		return false
	}
	if err := tab.Click(ctx, selSendSMSButton); err != nil {
		// some revisions send on submit instead
		_ = tab.Click(ctx, selSubmitButton)
	}

	e.report(task, "waiting for SMS code")
	code, ok := e.deps.Phone.GetCode(ctx, number, e.deps.SMSTimeout)
	if !ok {
		if e.cancelled(ctx) {
			task.Outcome = "cancelled"
			return false
		}
		// the broker already blacklisted the unreachable number
		task.Outcome = "SMS code never arrived"
		return false
	}

	if visible, _ := tab.WaitVisible(ctx, selCodeInput, controlWait); !visible {
		task.Outcome = "SMS code input never appeared"
		return false
	}
	if err := tab.Type(ctx, selCodeInput, code); err != nil {
		task.Outcome = "failed to enter SMS code"
		return false
	}
	_ = tab.Click(ctx, selSubmitButton)

	if !e.awaitLeave(ctx, tab, StatePhoneVerification, leaveTimeout) {
		task.Outcome = "phone verification not accepted"
		return false
	}

	if _, err := e.deps.Phone.RecordUsage(ctx, number); err != nil {
		e.log.Error("failed to record number usage", "number", number, "error", err)
	}

	return true
}

// handleUsageSelection answers the intended-usage questionnaire with the
// first option.
func (e *Executor) handleUsageSelection(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	if visible, _ := tab.WaitVisible(ctx, selUsageOption, controlWait); !visible {
		task.Outcome = "usage options never appeared"
		return false
	}

	if err := tab.Click(ctx, selUsageOption); err != nil {
		task.Outcome = "failed to pick usage option"
		return false
	}
	_ = tab.Click(ctx, selSubmitButton)

	return e.awaitLeave(ctx, tab, StateUsageSelection, leaveTimeout)
}

// handleProTrial starts the trial or skips it per configuration.
func (e *Executor) handleProTrial(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	if e.deps.Flow.SkipProTrial {
		if visible, _ := tab.WaitVisible(ctx, selSkipLink, 5*time.Second); visible {
			if err := tab.Click(ctx, selSkipLink); err == nil {
				return e.awaitLeave(ctx, tab, StateProTrial, leaveTimeout)
			}
		}
		task.Outcome = "trial page offered no skip control"
		return false
	}

	if visible, _ := tab.WaitVisible(ctx, selTrialButton, controlWait); !visible {
		task.Outcome = "trial button never appeared"
		return false
	}
	if err := tab.Click(ctx, selTrialButton); err != nil {
		task.Outcome = "failed to start trial"
		return false
	}

	return e.awaitLeave(ctx, tab, StateProTrial, leaveTimeout)
}

// handleStripePayment binds a card from the pool on the hosted checkout.
// The allocation is finalized exactly once: used after checkout accepts the
// card, problematic on any other exit.
func (e *Executor) handleStripePayment(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	if e.deps.Flow.SkipCardBind {
		if visible, _ := tab.WaitVisible(ctx, selSkipLink, 5*time.Second); visible {
			if err := tab.Click(ctx, selSkipLink); err == nil {
				return e.awaitLeave(ctx, tab, StateStripePayment, leaveTimeout)
			}
		}
		task.Outcome = "checkout offered no skip control"
		return false
	}

	alloc, ok := e.deps.Cards.Next()
	if !ok {
		task.Outcome = "no card available in pool"
		return false
	}
	defer alloc.Finalize()

	c := alloc.Card()
	e.report(task, "binding card "+c.Masked())

	if visible, _ := tab.WaitVisible(ctx, selCardNumber, controlWait); !visible {
		task.Outcome = "card form never appeared"
		return false
	}

	if err := tab.Type(ctx, selCardNumber, c.Number); err != nil {
		task.Outcome = "failed to enter card number"
		return false
	}
	if err := tab.Type(ctx, selCardExpiry, c.Expiry); err != nil {
		task.Outcome = "failed to enter card expiry"
		return false
	}
	if err := tab.Type(ctx, selCardCVC, c.CVC); err != nil {
		task.Outcome = "failed to enter card cvc"
		return false
	}
	if visible, _ := tab.WaitVisible(ctx, selBillingName, time.Second); visible {
		_ = tab.Type(ctx, selBillingName, task.Account.FirstName+" "+task.Account.LastName)
	}

	if err := tab.Click(ctx, selSubmitButton); err != nil {
		task.Outcome = "failed to submit checkout"
		return false
	}

	if !e.awaitLeave(ctx, tab, StateStripePayment, 90*time.Second) {
		task.Outcome = "checkout never accepted the card"
		return false
	}

	alloc.MarkUsed()
	return true
}

// handleBankVerification waits out the issuer 3-D Secure interstitial. The
// frame usually self-passes; best effort, bounded.
func (e *Executor) handleBankVerification(ctx context.Context, tab browser.Tab, task *domain.RegistrationTask) bool {
	if e.awaitLeave(ctx, tab, StateBankVerification, 90*time.Second) {
		return true
	}

	task.Outcome = "bank verification never completed"
	return false
}
