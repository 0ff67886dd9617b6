// Package apnstest provides test doubles for the apns package.
//
// MockTransport is an in-memory apns.Transport for unit tests of code built
// on apns.Connection. MockGateway is a real TCP (optionally TLS) server that
// speaks the gateway side of the binary protocol, for end-to-end tests of
// apns.TLSTransport and for manual testing through cmd/apnspush.
//
// Both decode every frame exactly as a conformant gateway would and can be
// told to refuse the n-th notification they receive:
//
//	gw, err := apnstest.StartMockGateway()
//	if err != nil {
//		t.Fatal(err)
//	}
//	defer gw.Close()
//
//	gw.FailWithErrorAfter(apns.InvalidToken, 3)
//
//	transport := apns.NewTLSTransport(gw.Addr(), nil, apns.WithDialer(gw.Dialer()))
//	conn := apns.NewConnection(transport)
//
// After refusing a notification the fake gateway writes one error frame and
// hangs up; anything the client wrote after the refused notification is
// dropped unprocessed, which is what makes the retry cache necessary.
package apnstest
