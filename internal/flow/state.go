package flow

// SignupState is a discrete step in the multi-page account-creation flow.
type SignupState int

const (
	// StateUnknown means the page matched no known marker. It is a valid
	// classification result, not an error; callers re-poll after a backoff.
	StateUnknown SignupState = iota
	// StateLogin is the sign-in page shown for an existing account.
	StateLogin
	// StateSignupFirstLevel is the initial signup form (name + email).
	StateSignupFirstLevel
	// StatePassword is the password entry page of the sign-in flow.
	StatePassword
	// StateSignupPassword is the password creation page of the signup flow.
	StateSignupPassword
	// StateMagicCode is the email one-time-code entry page.
	StateMagicCode
	// StatePhoneVerification is the SMS verification page.
	StatePhoneVerification
	// StateUsageSelection is the intended-usage questionnaire.
	StateUsageSelection
	// StateProTrial is the trial upsell page.
	StateProTrial
	// StateStripePayment is the hosted card-entry checkout.
	StateStripePayment
	// StateBankVerification is the issuer 3-D Secure interstitial.
	StateBankVerification
	// StateAgents is the dashboard reached after a completed registration.
	StateAgents
)

func (s SignupState) String() string {
	switch s {
	case StateLogin:
		return "login"
	case StateSignupFirstLevel:
		return "signup_first_level"
	case StatePassword:
		return "password"
	case StateSignupPassword:
		return "signup_password"
	case StateMagicCode:
		return "magic_code"
	case StatePhoneVerification:
		return "phone_verification"
	case StateUsageSelection:
		return "usage_selection"
	case StateProTrial:
		return "pro_trial"
	case StateStripePayment:
		return "stripe_payment"
	case StateBankVerification:
		return "bank_verification"
	case StateAgents:
		return "agents"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends the flow successfully.
func (s SignupState) Terminal() bool {
	return s == StateAgents
}

var transitionRecorder = func(from, to string) {}

// RegisterTransitionRecorder allows external packages to observe flow transitions.
func RegisterTransitionRecorder(recorder func(from, to string)) {
	if recorder == nil {
		transitionRecorder = func(string, string) {}
		return
	}

	transitionRecorder = recorder
}
