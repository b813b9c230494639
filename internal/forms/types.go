// Package forms holds the onboarding form document and the pure merge and
// diff logic applied to it on every update.
package forms

// DefaultEmail is recorded on a form whose first manager has no email.
const DefaultEmail = "no-email@provided.com"

type LogoOption string

const (
	LogoHasLogo   LogoOption = "has-logo"
	LogoNeedsLogo LogoOption = "needs-logo"
	LogoNone      LogoOption = "none"
)

type Role string

const (
	RoleAdmin      Role = "Admin"
	RoleSupervisor Role = "Supervisor"
	RoleObserver   Role = "Observer"
)

var allowedLogoOptions = map[LogoOption]struct{}{
	LogoHasLogo:   {},
	LogoNeedsLogo: {},
	LogoNone:      {},
}

var allowedRoles = map[Role]struct{}{
	RoleAdmin:      {},
	RoleSupervisor: {},
	RoleObserver:   {},
}

var allowedScheduleOptions = map[string]struct{}{
	"":       {},
	"24-7":   {},
	"custom": {},
}

// FormData is the fully materialized document stored on a record and on
// every version snapshot.
type FormData struct {
	SectionA CompanyProfile `json:"sectionA"`
	SectionB Accounts       `json:"sectionB"`
}

// CompanyProfile is the flat business identity section of the form.
type CompanyProfile struct {
	CompanyName           string     `json:"companyName"`
	Facebook              string     `json:"facebook"`
	Instagram             string     `json:"instagram"`
	Twitter               string     `json:"twitter"`
	Other                 string     `json:"other"`
	RoomDetails           string     `json:"roomDetails"`
	CashoutLimit          string     `json:"cashoutLimit"`
	MinDeposit            string     `json:"minDeposit"`
	TelegramPhone         string     `json:"telegramPhone"`
	ScheduleOption        string     `json:"scheduleOption"`
	CustomSchedule        string     `json:"customSchedule"`
	LogoOption            LogoOption `json:"logoOption"`
	UploadedLogos         []string   `json:"uploadedLogos"`
	DesignReferenceText   string     `json:"designReferenceText"`
	DesignReferenceImages []string   `json:"designReferenceImages"`
}

// Accounts is the list of backend managers submitted with the form.
type Accounts struct {
	Managers []Manager `json:"managers"`
}

type Manager struct {
	Username string `json:"username"`
	FullName string `json:"fullName"`
	Role     Role   `json:"role"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PartialFormData is an incoming payload. A nil pointer means the client did
// not send the field; a pointer to "" is an explicit overwrite.
type PartialFormData struct {
	SectionA *PartialCompanyProfile `json:"sectionA,omitempty"`
	SectionB *Accounts              `json:"sectionB,omitempty"`
}

// PartialCompanyProfile mirrors CompanyProfile without the image lists, which
// only change through uploads.
type PartialCompanyProfile struct {
	CompanyName         *string `json:"companyName,omitempty"`
	Facebook            *string `json:"facebook,omitempty"`
	Instagram           *string `json:"instagram,omitempty"`
	Twitter             *string `json:"twitter,omitempty"`
	Other               *string `json:"other,omitempty"`
	RoomDetails         *string `json:"roomDetails,omitempty"`
	CashoutLimit        *string `json:"cashoutLimit,omitempty"`
	MinDeposit          *string `json:"minDeposit,omitempty"`
	TelegramPhone       *string `json:"telegramPhone,omitempty"`
	ScheduleOption      *string `json:"scheduleOption,omitempty"`
	CustomSchedule      *string `json:"customSchedule,omitempty"`
	LogoOption          *string `json:"logoOption,omitempty"`
	DesignReferenceText *string `json:"designReferenceText,omitempty"`
}

// Uploads carries the URLs of files stored for this request. A nil list
// means nothing of that kind was uploaded.
type Uploads struct {
	Logos      []string
	References []string
}

// PrimaryEmail returns the first manager's email, or "" when there is none.
func (d FormData) PrimaryEmail() string {
	if len(d.SectionB.Managers) == 0 {
		return ""
	}
	return d.SectionB.Managers[0].Email
}

// Clone returns a deep copy that shares no slices with d.
func (d FormData) Clone() FormData {
	out := d
	out.SectionA.UploadedLogos = cloneStrings(d.SectionA.UploadedLogos)
	out.SectionA.DesignReferenceImages = cloneStrings(d.SectionA.DesignReferenceImages)
	out.SectionB = d.SectionB.Clone()
	return out
}

func (a Accounts) Clone() Accounts {
	if a.Managers == nil {
		return Accounts{}
	}
	managers := make([]Manager, len(a.Managers))
	copy(managers, a.Managers)
	return Accounts{Managers: managers}
}

// Normalize replaces nil lists with empty ones and fills the logo default so
// the stored JSON never carries null.
func (d FormData) Normalize() FormData {
	out := d.Clone()
	if out.SectionA.UploadedLogos == nil {
		out.SectionA.UploadedLogos = []string{}
	}
	if out.SectionA.DesignReferenceImages == nil {
		out.SectionA.DesignReferenceImages = []string{}
	}
	if out.SectionB.Managers == nil {
		out.SectionB.Managers = []Manager{}
	}
	if out.SectionA.LogoOption == "" {
		out.SectionA.LogoOption = LogoNone
	}
	return out
}

// StringPtr is a helper for building partial payloads.
func StringPtr(value string) *string {
	return &value
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
