package domain

// AuthenticationObject describes an SCA method offered by the ASPSP.
type AuthenticationObject struct {
	MethodID        string `json:"authenticationMethodId"`
	Type            string `json:"authenticationType"`
	Version         string `json:"authenticationVersion,omitempty"`
	Name            string `json:"name,omitempty"`
	ExplanationText string `json:"explanation,omitempty"`
	Decoupled       bool   `json:"decoupled,omitempty"`
}

// ChallengeData is what the PSU needs to produce an authentication code.
type ChallengeData struct {
	Image                 []byte   `json:"image,omitempty"`
	Data                  []string `json:"data,omitempty"`
	ImageLink             string   `json:"imageLink,omitempty"`
	OtpMaxLength          int      `json:"otpMaxLength,omitempty"`
	OtpFormat             string   `json:"otpFormat,omitempty"`
	AdditionalInformation string   `json:"additionalInformation,omitempty"`
}

// FindMethod returns the method with the given id.
func FindMethod(methods []AuthenticationObject, id string) (AuthenticationObject, bool) {
	for _, m := range methods {
		if m.MethodID == id {
			return m, true
		}
	}
	return AuthenticationObject{}, false
}
