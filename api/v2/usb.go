package v2

import (
	"encoding/json"
	"net/http"

	"github.com/scoutflo/flecsd-core/internal/core"
)

type usbDeviceDTO struct {
	Port   string `json:"port"`
	BusNum int    `json:"bus_num"`
	DevNum int    `json:"dev_num"`
}

func toUsbDeviceDTO(dev core.UsbDevice) usbDeviceDTO {
	return usbDeviceDTO{Port: dev.Port, BusNum: dev.BusNum, DevNum: dev.DevNum}
}

// getUSBDevice handles `GET /v2/instances/{id}/config/devices/usb/{port}`.
func (s *Server) getUSBDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	port := r.PathValue("port")
	dev, err := s.instances.GetUSB(id, port)
	if err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUsbDeviceDTO(dev))
}

// putUSBDevice handles `PUT /v2/instances/{id}/config/devices/usb/{port}`.
func (s *Server) putUSBDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	port := r.PathValue("port")
	var dto usbDeviceDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	dev := core.UsbDevice{Port: port, BusNum: dto.BusNum, DevNum: dto.DevNum}
	if err := s.instances.BindUSB(id, port, dev); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// deleteUSBDevice handles `DELETE /v2/instances/{id}/config/devices/usb/{port}`.
func (s *Server) deleteUSBDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseInstanceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	port := r.PathValue("port")
	if err := s.instances.UnbindUSB(id, port); err != nil {
		writeTaxonomyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
