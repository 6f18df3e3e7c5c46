package entity

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleCompany  Role = "company"
	RoleCustomer Role = "customer"
)

// Profile is the lightweight participant view joined onto conversations.
type Profile struct {
	ID          string `json:"id" firestore:"id"`
	DisplayName string `json:"display_name" firestore:"displayName"`
	Role        Role   `json:"role" firestore:"role"`
}

// EffectiveRole treats an unset role as a customer.
func (p *Profile) EffectiveRole() Role {
	if p == nil || p.Role == "" {
		return RoleCustomer
	}
	return p.Role
}

// JobContext is the job/order a conversation was started from. Display only.
type JobContext struct {
	ID       string `json:"id" firestore:"id"`
	Category string `json:"category" firestore:"category"`
}
