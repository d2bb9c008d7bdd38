package speechgate

import "context"

// Classroom is the directory record tenant resolution starts from.
type Classroom struct {
	ID               string
	OwnerTeacherID   string
	SchoolID         string
	SchoolLinkActive bool
}

// School links a classroom to its owning organization.
type School struct {
	ID             string
	OrganizationID string
	Active         bool
}

// OrgRecord is the directory view of an organization account.
type OrgRecord struct {
	ID     string
	Active bool
}

// Directory is the read-only lookup interface the resolver consumes. It is
// a collaborator boundary; implementations live outside the core (an
// in-memory one ships in the directory package for tests and examples).
type Directory interface {
	Classroom(ctx context.Context, id string) (Classroom, error)
	School(ctx context.Context, id string) (School, error)
	Organization(ctx context.Context, id string) (OrgRecord, error)
}

// Resolver maps a classroom to the tenant that pays for its requests.
type Resolver struct {
	dir Directory
}

// NewResolver creates a Resolver backed by the given directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve returns the billing target for a classroom: the owning
// organization when the classroom has an active school link whose
// organization is active, otherwise the classroom's teacher. A classroom
// with no owner at all fails with ResolutionError before any quota or
// admission work happens.
func (r *Resolver) Resolve(ctx context.Context, classroomID string) (BillingTarget, error) {
	cls, err := r.dir.Classroom(ctx, classroomID)
	if err != nil {
		return BillingTarget{}, &ResolutionError{ClassroomID: classroomID, Reason: err.Error()}
	}

	if cls.SchoolID != "" && cls.SchoolLinkActive {
		school, err := r.dir.School(ctx, cls.SchoolID)
		if err == nil && school.Active && school.OrganizationID != "" {
			org, err := r.dir.Organization(ctx, school.OrganizationID)
			if err == nil && org.Active {
				return Organization(org.ID), nil
			}
		}
	}

	if cls.OwnerTeacherID == "" {
		return BillingTarget{}, &ResolutionError{ClassroomID: classroomID, Reason: "classroom has no owner"}
	}

	return Teacher(cls.OwnerTeacherID), nil
}
