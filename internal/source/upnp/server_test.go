// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upnp

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/anacrolix/dms/soap"
	"github.com/anacrolix/dms/upnp"
)

const testUDN = "uuid:4d696e69-444c-164e-9d41-b827eb96c6c2"

const descriptionTemplate = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
    <friendlyName>Living Room</friendlyName>
    <manufacturer>Test</manufacturer>
    <modelName>Tuner</modelName>
    <UDN>%s</UDN>
    <iconList><icon><mimetype>image/png</mimetype><width>48</width><height>48</height><url>/icon.png</url></icon></iconList>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:ContentDirectory:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:ContentDirectory</serviceId>
        <controlURL>/ctl</controlURL>
      </service>
    </serviceList>
  </device>
</root>`

// mediaServer is an httptest ContentDirectory with a fixed tree.
type mediaServer struct {
	*httptest.Server

	mu       sync.Mutex
	tree     map[string][]string // parent -> DIDL fragments
	fault    int
	requests int
}

func newMediaServer(t *testing.T) *mediaServer {
	t.Helper()
	m := &mediaServer{tree: make(map[string][]string)}
	mux := http.NewServeMux()
	mux.HandleFunc("/desc.xml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		fmt.Fprintf(w, descriptionTemplate, testUDN)
	})
	mux.HandleFunc("/ctl", m.control)
	m.Server = httptest.NewServer(mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mediaServer) location() string { return m.URL + "/desc.xml" }

func (m *mediaServer) add(parent string, fragments ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree[parent] = append(m.tree[parent], fragments...)
}

func (m *mediaServer) setFault(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = code
}

func (m *mediaServer) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

type browseRequest struct {
	ObjectID       string `xml:"ObjectID"`
	BrowseFlag     string `xml:"BrowseFlag"`
	StartingIndex  int    `xml:"StartingIndex"`
	RequestedCount int    `xml:"RequestedCount"`
}

func (m *mediaServer) control(w http.ResponseWriter, r *http.Request) {
	sa, err := upnp.ParseActionHTTPHeader(r.Header.Get("SOAPACTION"))
	if err != nil || sa.Type != "ContentDirectory" || sa.Action != "Browse" {
		http.Error(w, "bad action", http.StatusBadRequest)
		return
	}
	var env soap.Envelope
	if err := xml.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "bad envelope", http.StatusBadRequest)
		return
	}
	var req browseRequest
	if err := xml.Unmarshal(env.Body.Action, &req); err != nil || req.BrowseFlag != "BrowseDirectChildren" {
		http.Error(w, "bad browse", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.requests++
	fault := m.fault
	children, ok := m.tree[req.ObjectID]
	m.mu.Unlock()

	w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
	if fault == 0 && !ok {
		fault = CodeNoSuchObject
	}
	if fault != 0 {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring><detail><UPnPError xmlns="urn:schemas-upnp-org:control-1-0"><errorCode>%d</errorCode><errorDescription>failure %d</errorDescription></UPnPError></detail></s:Fault></s:Body></s:Envelope>`, fault, fault)
		return
	}

	start := min(req.StartingIndex, len(children))
	end := len(children)
	if req.RequestedCount > 0 {
		end = min(start+req.RequestedCount, end)
	}
	page := children[start:end]
	didl := `<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">` +
		strings.Join(page, "") + `</DIDL-Lite>`

	args := []soap.Arg{
		{XMLName: xml.Name{Local: "Result"}, Value: didl},
		{XMLName: xml.Name{Local: "NumberReturned"}, Value: strconv.Itoa(len(page))},
		{XMLName: xml.Name{Local: "TotalMatches"}, Value: strconv.Itoa(len(children))},
		{XMLName: xml.Name{Local: "UpdateID"}, Value: "1"},
	}
	inner, _ := xml.Marshal(args)
	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body><u:BrowseResponse xmlns:u="%s">%s</u:BrowseResponse></s:Body></s:Envelope>`,
		sa.ServiceURN.String(), inner)
}

func containerXML(id, parent, title string) string {
	return fmt.Sprintf(`<container id="%s" parentID="%s" restricted="1"><dc:title>%s</dc:title><upnp:class>object.container</upnp:class></container>`, id, parent, title)
}

func channelXML(id, parent, number, name string) string {
	return fmt.Sprintf(`<item id="%s" parentID="%s" restricted="1"><dc:title>%s</dc:title><upnp:class>object.item.videoItem.videoBroadcast</upnp:class><upnp:channelNr>%s</upnp:channelNr><upnp:channelName>#%s</upnp:channelName><res protocolInfo="http-get:*:video/mpeg:*">http://tuner/%s.ts</res></item>`, id, parent, name, number, name, number)
}

func programXML(id, parent, title, start, end string) string {
	return fmt.Sprintf(`<item id="%s" parentID="%s" restricted="1"><dc:title>%s</dc:title><upnp:class>object.item.epgItem.videoProgram</upnp:class><upnp:programTitle>%s</upnp:programTitle><upnp:scheduledStartTime>%s</upnp:scheduledStartTime><upnp:scheduledEndTime>%s</upnp:scheduledEndTime></item>`, id, parent, title, title, start, end)
}
