package channel

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"carebot/internal/domain"
)

// Config CRUD for the dashboard: profile, medications, contacts, bills.
// Mutations that feed the agent's system prompt invalidate its cache.

func (w *Web) resetPrompt() {
	if w.promptReset != nil {
		w.promptReset()
	}
}

func (w *Web) handleGetProfile(rw http.ResponseWriter, r *http.Request) {
	profile, err := w.store.GetProfile(r.Context())
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	if profile == nil {
		writeError(rw, http.StatusNotFound, "no profile set; run 'carebot seed' or PUT one")
		return
	}
	writeJSON(rw, http.StatusOK, profile)
}

func (w *Web) handlePutProfile(rw http.ResponseWriter, r *http.Request) {
	var profile domain.UserProfile
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&profile); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid profile: "+err.Error())
		return
	}
	if profile.Name == "" {
		writeError(rw, http.StatusBadRequest, "profile name is required")
		return
	}
	if err := w.store.SaveProfile(r.Context(), profile); err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	w.resetPrompt()
	writeJSON(rw, http.StatusOK, map[string]string{"status": "saved"})
}

func (w *Web) handleListMedications(rw http.ResponseWriter, r *http.Request) {
	meds, err := w.store.ListMedications(r.Context())
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"medications": meds, "count": len(meds)})
}

func (w *Web) handleAddMedication(rw http.ResponseWriter, r *http.Request) {
	var med domain.Medication
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&med); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid medication: "+err.Error())
		return
	}
	if med.Name == "" || med.Dosage == "" {
		writeError(rw, http.StatusBadRequest, "name and dosage are required")
		return
	}
	saved, err := w.store.AddMedication(r.Context(), med)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	w.resetPrompt()
	writeJSON(rw, http.StatusCreated, saved)
}

func (w *Web) handleDeleteMedication(rw http.ResponseWriter, r *http.Request) {
	if err := w.store.DeleteMedication(r.Context(), r.PathValue("id")); err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	w.resetPrompt()
	writeJSON(rw, http.StatusOK, map[string]string{"status": "deleted"})
}

func (w *Web) handleListContacts(rw http.ResponseWriter, r *http.Request) {
	contacts, err := w.store.ListContacts(r.Context())
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"contacts": contacts, "count": len(contacts)})
}

func (w *Web) handleAddContact(rw http.ResponseWriter, r *http.Request) {
	var contact domain.EmergencyContact
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&contact); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid contact: "+err.Error())
		return
	}
	if contact.Name == "" || contact.Phone == "" {
		writeError(rw, http.StatusBadRequest, "name and phone are required")
		return
	}
	saved, err := w.store.AddContact(r.Context(), contact)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	w.resetPrompt()
	writeJSON(rw, http.StatusCreated, saved)
}

func (w *Web) handleUpdateContact(rw http.ResponseWriter, r *http.Request) {
	var contact domain.EmergencyContact
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&contact); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid contact: "+err.Error())
		return
	}
	contact.ID = r.PathValue("id")
	if err := w.store.UpdateContact(r.Context(), contact); err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	w.resetPrompt()
	writeJSON(rw, http.StatusOK, map[string]string{"status": "updated"})
}

func (w *Web) handleDeleteContact(rw http.ResponseWriter, r *http.Request) {
	if err := w.store.DeleteContact(r.Context(), r.PathValue("id")); err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	w.resetPrompt()
	writeJSON(rw, http.StatusOK, map[string]string{"status": "deleted"})
}

func (w *Web) handleListBills(rw http.ResponseWriter, r *http.Request) {
	unpaidOnly := false
	if v := r.URL.Query().Get("unpaid"); v != "" {
		unpaidOnly, _ = strconv.ParseBool(v)
	}
	bills, err := w.store.ListBills(r.Context(), unpaidOnly)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"bills": bills, "count": len(bills)})
}

func (w *Web) handleAddBill(rw http.ResponseWriter, r *http.Request) {
	var bill domain.BillReminder
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&bill); err != nil {
		writeError(rw, http.StatusBadRequest, "invalid bill: "+err.Error())
		return
	}
	if bill.Name == "" || bill.DueDate == "" {
		writeError(rw, http.StatusBadRequest, "name and due_date are required")
		return
	}
	saved, err := w.store.AddBill(r.Context(), bill)
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusCreated, saved)
}

// handleMarkBillPaid marks a bill paid; the only mutable state on a bill.
func (w *Web) handleMarkBillPaid(rw http.ResponseWriter, r *http.Request) {
	bill, err := w.store.MarkBillPaid(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	if bill == nil {
		writeError(rw, http.StatusNotFound, "no matching bill")
		return
	}
	writeJSON(rw, http.StatusOK, bill)
}

func (w *Web) handleDeleteBill(rw http.ResponseWriter, r *http.Request) {
	if err := w.store.DeleteBill(r.Context(), r.PathValue("id")); err != nil {
		writeError(rw, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"status": "deleted"})
}
