// internal/model/actor.go
package model

type Permission string

const (
	PermViewCampaigns   Permission = "campaigns:view"
	PermManageCampaigns Permission = "campaigns:manage"
	PermSendCampaigns   Permission = "campaigns:send"
)

// Actor is the caller on whose behalf an engine operation runs.
type Actor struct {
	ID          string       `json:"id"`
	Permissions []Permission `json:"permissions"`
}

func (a Actor) Can(p Permission) bool {
	for _, granted := range a.Permissions {
		if granted == p {
			return true
		}
	}
	return false
}

// SystemActor returns an actor holding every permission, for workers and CLIs.
func SystemActor(id string) Actor {
	return Actor{
		ID:          id,
		Permissions: []Permission{PermViewCampaigns, PermManageCampaigns, PermSendCampaigns},
	}
}

// ViewerActor may only read campaigns.
func ViewerActor(id string) Actor {
	return Actor{ID: id, Permissions: []Permission{PermViewCampaigns}}
}
