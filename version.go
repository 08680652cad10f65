package paygate

// Version is the version of the paygate daemon and client.
const Version = "0.1.0-beta"
