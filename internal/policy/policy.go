// Package policy maps resolved country codes to regional routing
// decisions: storage engine, settlement currency, allowed payment
// methods, allowed auth methods, and the GDPR compliance flag.
package policy

import "strings"

// Region identifies a geographic/regulatory region.
type Region string

const (
	RegionChina  Region = "CHINA"
	RegionUSA    Region = "USA"
	RegionEurope Region = "EUROPE"
)

// StorageEngine identifies a supported storage backend.
type StorageEngine string

const (
	EngineDocumentStore StorageEngine = "cloud-doc-store"
	EngineRelational    StorageEngine = "relational-cloud"
)

// Method identifies a payment provider. The set is closed; the payment
// router registers one provider per method.
type Method string

const (
	MethodAlipay Method = "alipay"
	MethodWechat Method = "wechat"
	MethodStripe Method = "stripe"
	MethodPaypal Method = "paypal"
)

// AuthMethod identifies a supported authentication mechanism.
type AuthMethod string

const (
	AuthEmail  AuthMethod = "email"
	AuthGoogle AuthMethod = "google"
	AuthPhone  AuthMethod = "phone"
)

// RegionProfile bundles the policy decisions for one region. Profiles
// are value objects; callers receive fresh copies and must not rely on
// shared slices being mutable.
type RegionProfile struct {
	Region         Region        `json:"region"`
	CountryCode    string        `json:"country_code"`
	StorageEngine  StorageEngine `json:"storage_engine"`
	Currency       string        `json:"currency"`
	PaymentMethods []Method      `json:"payment_methods"`
	AuthMethods    []AuthMethod  `json:"auth_methods"`
	GDPRCompliant  bool          `json:"gdpr_compliant"`
}

// euCountries is the EU/EEA membership set. Any address resolving to
// one of these codes gets the restricted EUROPE profile: no payment
// integration and email-only auth. Enforced here so no downstream
// component can bypass it.
var euCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true,
	"CZ": true, "DK": true, "EE": true, "FI": true, "FR": true,
	"DE": true, "GR": true, "HU": true, "IE": true, "IT": true,
	"LV": true, "LT": true, "LU": true, "MT": true, "NL": true,
	"PL": true, "PT": true, "RO": true, "SK": true, "SI": true,
	"ES": true, "SE": true,
	// EEA members outside the EU
	"IS": true, "LI": true, "NO": true,
}

var allAuthMethods = []AuthMethod{AuthEmail, AuthGoogle, AuthPhone}

// PolicyFor maps a country code to its RegionProfile. Unknown or
// unparseable codes fall through to the USA default.
func PolicyFor(countryCode string) RegionProfile {
	code := strings.ToUpper(strings.TrimSpace(countryCode))

	switch {
	case code == "CN":
		return RegionProfile{
			Region:         RegionChina,
			CountryCode:    code,
			StorageEngine:  EngineDocumentStore,
			Currency:       "CNY",
			PaymentMethods: []Method{MethodWechat, MethodAlipay},
			AuthMethods:    cloneAuth(allAuthMethods),
			GDPRCompliant:  false,
		}
	case euCountries[code]:
		return RegionProfile{
			Region:         RegionEurope,
			CountryCode:    code,
			StorageEngine:  EngineRelational,
			Currency:       "EUR",
			PaymentMethods: []Method{},
			AuthMethods:    []AuthMethod{AuthEmail},
			GDPRCompliant:  true,
		}
	default:
		return RegionProfile{
			Region:         RegionUSA,
			CountryCode:    code,
			StorageEngine:  EngineRelational,
			Currency:       "USD",
			PaymentMethods: []Method{MethodStripe, MethodPaypal},
			AuthMethods:    cloneAuth(allAuthMethods),
			GDPRCompliant:  false,
		}
	}
}

// DefaultProfile is the profile returned when region detection fails
// entirely. Callers always receive a usable routing decision.
func DefaultProfile() RegionProfile {
	return PolicyFor("US")
}

// MethodsFor returns the ordered payment method preference for a
// region. EUROPE yields an empty list, which guarantees zero provider
// invocations downstream.
func MethodsFor(region Region) []Method {
	switch region {
	case RegionChina:
		return []Method{MethodWechat, MethodAlipay}
	case RegionEurope:
		return []Method{}
	default:
		return []Method{MethodStripe, MethodPaypal}
	}
}

func cloneAuth(methods []AuthMethod) []AuthMethod {
	out := make([]AuthMethod, len(methods))
	copy(out, methods)
	return out
}
