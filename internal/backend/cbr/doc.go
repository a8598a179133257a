// Package cbr is a client for the Central Bank of Russia XML rate service
// (XML_daily.asp and XML_valFull.asp) and the backend operations built on it.
//
// Responses are windows-1251 encoded XML with decimal commas. Parsing
// failures surface as backend InvalidResponse errors; HTTP and transport
// failures are classified with backend.StatusError and backend.Classify.
package cbr
