package rbac

type Role string
type Action string

// ApproverRole names one gate in an event's approval chain.
type ApproverRole string

const (
	RoleStaff      Role = "staff"
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleSuperAdmin Role = "super_admin"
)

const (
	ActionRead           Action = "read"
	ActionEditSteps      Action = "edit_steps"
	ActionManageTasks    Action = "manage_tasks"
	ActionManageWorkflow Action = "manage_workflow"
	ActionManageEvents   Action = "manage_events"
	ActionApprove        Action = "approve"
)

const (
	ApproverEventManager     ApproverRole = "event_manager"
	ApproverCampaignDirector ApproverRole = "campaign_director"
	ApproverChiefOfStaff     ApproverRole = "chief_of_staff"
)

// DefaultApprovalChain is the level order seeded for new events.
var DefaultApprovalChain = []ApproverRole{
	ApproverEventManager,
	ApproverCampaignDirector,
	ApproverChiefOfStaff,
}

var approverFor = map[Role]ApproverRole{
	RoleAdmin:      ApproverEventManager,
	RoleSupervisor: ApproverCampaignDirector,
	RoleSuperAdmin: ApproverChiefOfStaff,
}

// ApproverFor maps an account role to the approval gate it may act on.
// Staff accounts have no approver role.
func ApproverFor(role Role) (ApproverRole, bool) {
	approver, ok := approverFor[role]
	return approver, ok
}

func ValidApprover(role string) bool {
	switch ApproverRole(role) {
	case ApproverEventManager, ApproverCampaignDirector, ApproverChiefOfStaff:
		return true
	default:
		return false
	}
}

func Can(role Role, action Action) bool {
	switch role {
	case RoleSuperAdmin, RoleSupervisor, RoleAdmin:
		return true
	case RoleStaff:
		return action == ActionRead || action == ActionEditSteps || action == ActionManageTasks
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleStaff, RoleAdmin, RoleSupervisor, RoleSuperAdmin:
		return Role(role)
	default:
		return RoleStaff
	}
}
