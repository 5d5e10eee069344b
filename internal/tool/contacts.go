package tool

import (
	"context"
	"fmt"

	"carebot/internal/domain"
	"carebot/internal/store"
)

// GetEmergencyContactsTool lists the emergency contacts, primary first.
type GetEmergencyContactsTool struct {
	store *store.Store
}

func NewGetEmergencyContactsTool(s *store.Store) *GetEmergencyContactsTool {
	return &GetEmergencyContactsTool{store: s}
}

func (t *GetEmergencyContactsTool) Name() string { return "getEmergencyContacts" }
func (t *GetEmergencyContactsTool) Description() string {
	return "Get the user's emergency contacts (family, caregivers, doctors) with phone numbers."
}
func (t *GetEmergencyContactsTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *GetEmergencyContactsTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	contacts, err := t.store.ListContacts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	if contacts == nil {
		contacts = []domain.EmergencyContact{}
	}
	return map[string]any{"contacts": contacts, "count": len(contacts)}, nil
}

// AddEmergencyContactTool adds a contact.
type AddEmergencyContactTool struct {
	store *store.Store
}

func NewAddEmergencyContactTool(s *store.Store) *AddEmergencyContactTool {
	return &AddEmergencyContactTool{store: s}
}

func (t *AddEmergencyContactTool) Name() string { return "addEmergencyContact" }
func (t *AddEmergencyContactTool) Description() string {
	return "Add a new emergency contact. Requires name, relation, and phone number."
}
func (t *AddEmergencyContactTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"name":       {Type: "string", Description: "Contact's full name"},
		"relation":   {Type: "string", Description: "Relationship, e.g. 'daughter' or 'doctor'"},
		"phone":      {Type: "string", Description: "Phone number"},
		"email":      {Type: "string", Description: "Email address"},
		"is_primary": {Type: "boolean", Description: "Whether this is the primary contact"},
	}, []string{"name", "relation", "phone"})
}

func (t *AddEmergencyContactTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	contact, err := t.store.AddContact(ctx, domain.EmergencyContact{
		Name:      ArgsString(args, "name"),
		Relation:  ArgsString(args, "relation"),
		Phone:     ArgsString(args, "phone"),
		Email:     ArgsString(args, "email"),
		IsPrimary: ArgsBool(args, "is_primary", false),
	})
	if err != nil {
		return nil, fmt.Errorf("add contact: %w", err)
	}
	return map[string]any{"success": true, "contact": contact}, nil
}

// UpdateEmergencyContactTool updates fields on an existing contact.
type UpdateEmergencyContactTool struct {
	store *store.Store
}

func NewUpdateEmergencyContactTool(s *store.Store) *UpdateEmergencyContactTool {
	return &UpdateEmergencyContactTool{store: s}
}

func (t *UpdateEmergencyContactTool) Name() string { return "updateEmergencyContact" }
func (t *UpdateEmergencyContactTool) Description() string {
	return "Update an existing emergency contact's phone, email, or other details. Find the contact by name."
}
func (t *UpdateEmergencyContactTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{
		"name":       {Type: "string", Description: "Name of the contact to update"},
		"phone":      {Type: "string", Description: "New phone number"},
		"email":      {Type: "string", Description: "New email address"},
		"relation":   {Type: "string", Description: "New relationship"},
		"is_primary": {Type: "boolean", Description: "Whether this is the primary contact"},
	}, []string{"name"})
}

func (t *UpdateEmergencyContactTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	name := ArgsString(args, "name")
	contact, err := t.store.FindContactByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	if contact == nil {
		return nil, &SuggestionError{
			Err:        fmt.Errorf("no contact matching %q", name),
			Suggestion: "List the contacts with getEmergencyContacts and confirm the name.",
		}
	}

	if v := ArgsString(args, "phone"); v != "" {
		contact.Phone = v
	}
	if v := ArgsString(args, "email"); v != "" {
		contact.Email = v
	}
	if v := ArgsString(args, "relation"); v != "" {
		contact.Relation = v
	}
	if _, ok := args["is_primary"]; ok {
		contact.IsPrimary = ArgsBool(args, "is_primary", contact.IsPrimary)
	}

	if err := t.store.UpdateContact(ctx, *contact); err != nil {
		return nil, fmt.Errorf("update contact: %w", err)
	}
	return map[string]any{"success": true, "contact": contact}, nil
}

// GetUserProfileTool returns the stored profile of the person cared for.
type GetUserProfileTool struct {
	store *store.Store
}

func NewGetUserProfileTool(s *store.Store) *GetUserProfileTool {
	return &GetUserProfileTool{store: s}
}

func (t *GetUserProfileTool) Name() string { return "getUserProfile" }
func (t *GetUserProfileTool) Description() string {
	return "Get the user's profile: name, age, home address, email, and timezone."
}
func (t *GetUserProfileTool) Parameters() map[string]any {
	return ToolParameters(map[string]Param{}, nil)
}

func (t *GetUserProfileTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	profile, err := t.store.GetProfile(ctx)
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	if profile == nil {
		return nil, &SuggestionError{
			Err:        fmt.Errorf("no user profile is set up yet"),
			Suggestion: "Run 'carebot seed' or fill in the profile from the dashboard.",
		}
	}
	return map[string]any{"profile": profile}, nil
}
