package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/openev/carwings/internal/authentication"
	"github.com/openev/carwings/internal/clock"
	"github.com/openev/carwings/mocks"
	"github.com/openev/carwings/pkg/cache"
	"github.com/openev/carwings/pkg/protocol"
)

const (
	loginReply     = `{"status":200,"VehicleInfoList":{"vehicleInfo":[{"vin":"VIN1","custom_sessionid":"FRESH"}]}}`
	testUser       = "driver@example.com"
	baseURL2018    = "https://gdcportalgw.its-mo.com/gworchest_160803EC/gdc/"
	climateOnPath  = baseURL2018 + "ACRemoteRequest.php"
	climateResPath = baseURL2018 + "ACRemoteResult.php"
)

var start = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

var _ = Describe("Dispatcher", func() {
	var (
		config    *protocol.Config
		transport *scriptedTransport
		store     *cache.MemoryStore
		fake      *clock.Fake
		d         *Dispatcher
		ctx       context.Context
	)

	seed := func(r cache.Record) {
		Expect(store.Save(ctx, cache.KeyFor(testUser), r)).To(Succeed())
	}

	BeforeEach(func() {
		ctx = context.Background()
		config = mustConfig(protocol.Carwings2018, protocol.RegionUS)
		transport = &scriptedTransport{}
		store = cache.NewMemoryStore(0)
		fake = clock.NewFake(start)
		auth := authentication.NewAuthenticator(config, testUser, "hunter2", authentication.Blowfish{})
		d = New(config, transport, auth, store, cache.KeyFor(testUser))
		d.SetClock(fake)
		d.SetUserAgent("carwings-test/1.0")
	})

	Describe("Prepare", func() {
		It("uses a complete stored record without logging in", func() {
			seed(cache.Record{VIN: "VIN1", CustomSessionID: "CACHED"})
			Expect(d.Prepare(ctx)).To(Succeed())
			Expect(transport.calls()).To(Equal(0))
			Expect(d.Session().CustomSessionID).To(Equal("CACHED"))
		})

		It("logs in and persists the record on a miss", func() {
			transport.queue(reply(loginReply))
			Expect(d.Prepare(ctx)).To(Succeed())
			Expect(transport.calls()).To(Equal(1))
			Expect(transport.request(0).URL).To(HaveSuffix("UserLoginRequest.php"))

			stored, ok, err := store.Load(ctx, cache.KeyFor(testUser))
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(stored).To(Equal(cache.Record{VIN: "VIN1", CustomSessionID: "FRESH"}))
		})

		It("never skips login with an incomplete record", func() {
			seed(cache.Record{VIN: "VIN1"})
			transport.queue(reply(loginReply))
			Expect(d.Prepare(ctx)).To(Succeed())
			Expect(transport.calls()).To(Equal(1))
		})

		It("does not persist a failed login", func() {
			transport.queue(reply(`{"status":200,"VehicleInfoList":{"vehicleInfo":[{"vin":"VIN1"}]}}`))
			err := d.Prepare(ctx)
			Expect(errors.Is(err, protocol.ErrLoginFailed)).To(BeTrue())
			Expect(store.Len()).To(Equal(0))
		})

		It("logs in on demand even with a stored record", func() {
			seed(cache.Record{VIN: "VIN1", CustomSessionID: "CACHED"})
			transport.queue(reply(loginReply))
			Expect(d.Login(ctx)).To(Succeed())
			Expect(transport.calls()).To(Equal(1))
			Expect(d.Session().CustomSessionID).To(Equal("FRESH"))
		})

		It("keeps the stored record when an explicit login fails", func() {
			seed(cache.Record{VIN: "VIN1", CustomSessionID: "CACHED"})
			transport.queue(reply(`{"status":200,"message":"INVALID"}`))
			Expect(errors.Is(d.Login(ctx), protocol.ErrLoginFailed)).To(BeTrue())
			stored, _, _ := store.Load(ctx, cache.KeyFor(testUser))
			Expect(stored.CustomSessionID).To(Equal("CACHED"))
		})

		It("treats store failures as misses", func() {
			ctrl := gomock.NewController(GinkgoT())
			failing := mocks.NewSessionStore(ctrl)
			failing.EXPECT().Load(gomock.Any(), cache.KeyFor(testUser)).Return(cache.Record{}, false, errors.New("disk on fire"))
			failing.EXPECT().Save(gomock.Any(), cache.KeyFor(testUser), cache.Record{VIN: "VIN1", CustomSessionID: "FRESH"}).Return(errors.New("read-only"))

			auth := authentication.NewAuthenticator(config, testUser, "hunter2", authentication.Blowfish{})
			d = New(config, transport, auth, failing, cache.KeyFor(testUser))
			transport.queue(reply(loginReply))
			Expect(d.Prepare(ctx)).To(Succeed())
			Expect(d.Session().CustomSessionID).To(Equal("FRESH"))
		})

		It("prefers the configured VIN", func() {
			d.SetVIN("MYVIN")
			transport.queue(reply(loginReply))
			Expect(d.Prepare(ctx)).To(Succeed())
			Expect(d.Session().VIN).To(Equal("MYVIN"))
		})
	})

	Describe("Send", func() {
		BeforeEach(func() {
			seed(cache.Record{VIN: "VIN1", CustomSessionID: "CACHED"})
			Expect(d.Prepare(ctx)).To(Succeed())
		})

		It("injects session and protocol parameters into every request", func() {
			transport.queue(reply(`{"status":200}`))
			_, err := d.Send(ctx, protocol.OpClimateOn, map[string]string{"VIN": "SPOOFED", "extra": "1"})
			Expect(err).NotTo(HaveOccurred())

			req := transport.request(0)
			Expect(req.Method).To(Equal(http.MethodPost))
			Expect(req.URL).To(Equal(climateOnPath))
			Expect(req.Header.Get("User-Agent")).To(Equal("carwings-test/1.0"))
			Expect(req.Header.Get("Content-Type")).To(Equal("application/x-www-form-urlencoded"))

			form := transport.form(0)
			Expect(form.Get("VIN")).To(Equal("VIN1"))
			Expect(form.Get("custom_sessionid")).To(Equal("CACHED"))
			Expect(form.Get("RegionCode")).To(Equal("NNA"))
			Expect(form.Get("lg")).To(Equal("en-US"))
			Expect(form.Get("tz")).To(Equal("America/Los_Angeles"))
			Expect(form.Get("initial_app_str")).To(Equal(protocol.Carwings2018.InitialAppStrings))
			Expect(form.Get("extra")).To(Equal("1"))
		})

		It("returns successful bodies unchanged", func() {
			body := `{"status":200,"BatteryStatusRecords":{"PluginState":"CONNECTED"}}`
			transport.queue(reply(body))
			rsp, err := d.Send(ctx, protocol.OpBatteryRecords, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(rsp.Body)).To(Equal(body))
			Expect(rsp.Status).To(Equal(http.StatusOK))
		})

		It("re-authenticates once on a session-expiry status", func() {
			transport.queue(
				reply(`{"status":404}`),
				reply(loginReply),
				reply(`{"status":200,"done":true}`),
			)
			rsp, err := d.Send(ctx, protocol.OpClimateOn, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.Get("done").Bool()).To(BeTrue())
			Expect(transport.calls()).To(Equal(3))
			Expect(transport.request(1).URL).To(HaveSuffix("UserLoginRequest.php"))
			Expect(transport.form(2).Get("custom_sessionid")).To(Equal("FRESH"))
			Expect(d.Budget().Available()).To(BeFalse())

			stored, _, _ := store.Load(ctx, cache.KeyFor(testUser))
			Expect(stored.CustomSessionID).To(Equal("FRESH"))
		})

		It("does not re-authenticate once the budget is spent", func() {
			transport.queue(reply(`{"status":404}`), reply(loginReply), reply(`{"status":200}`))
			_, err := d.Send(ctx, protocol.OpClimateOn, nil)
			Expect(err).NotTo(HaveOccurred())

			transport.queue(reply(`{"status":-2000}`))
			_, err = d.Send(ctx, protocol.OpClimateOn, nil)
			var requestErr *protocol.RequestError
			Expect(errors.As(err, &requestErr)).To(BeTrue())
			Expect(requestErr.Status).To(Equal(-2000))
			Expect(transport.calls()).To(Equal(4))

			d.ResetBudget()
			Expect(d.Budget().Available()).To(BeTrue())
		})

		It("propagates other failures immediately", func() {
			transport.queue(reply(`{"status":500,"message":"busy"}`))
			_, err := d.Send(ctx, protocol.OpClimateOn, nil)
			var requestErr *protocol.RequestError
			Expect(errors.As(err, &requestErr)).To(BeTrue())
			Expect(requestErr.Status).To(Equal(500))
			Expect(requestErr.Endpoint).To(Equal("ACRemoteRequest.php"))
			Expect(transport.calls()).To(Equal(1))
			Expect(d.Budget().Available()).To(BeTrue())
		})

		It("reports non-JSON bodies", func() {
			transport.queue(reply("<html>Service Unavailable</html>"))
			_, err := d.Send(ctx, protocol.OpClimateOn, nil)
			Expect(errors.Is(err, protocol.ErrNonJSONResponse)).To(BeTrue())
		})

		It("rejects operations the generation lacks", func() {
			_, err := d.Send(ctx, protocol.OpLockDoors, nil)
			Expect(errors.Is(err, protocol.ErrUnsupported)).To(BeTrue())
			Expect(transport.calls()).To(Equal(0))
		})

		It("records the latest result key", func() {
			transport.queue(reply(`{"status":200,"resultKey":"FIRST"}`), reply(`{"status":200,"resultKey":"SECOND"}`))
			_, err := d.Send(ctx, protocol.OpClimateOn, nil)
			Expect(err).NotTo(HaveOccurred())
			key, ok := d.Pending()
			Expect(ok).To(BeTrue())
			Expect(key).To(Equal("FIRST"))

			_, err = d.Send(ctx, protocol.OpStatusRefresh, nil)
			Expect(err).NotTo(HaveOccurred())
			key, _ = d.Pending()
			Expect(key).To(Equal("SECOND"))
		})
	})

	Describe("Wait", func() {
		BeforeEach(func() {
			seed(cache.Record{VIN: "VIN1", CustomSessionID: "CACHED"})
			Expect(d.Prepare(ctx)).To(Succeed())
		})

		DescribeTable("fails without a pending operation",
			func(op protocol.Operation) {
				_, err := d.Wait(ctx, op)
				Expect(err).To(MatchError(protocol.ErrMissingResultKey))
				Expect(transport.calls()).To(Equal(0))
			},
			Entry("climate on", protocol.OpClimateOnResult),
			Entry("climate off", protocol.OpClimateOffResult),
			Entry("status", protocol.OpStatusRefreshResult),
			Entry("unsupported", protocol.OpLockDoorsResult),
		)

		It("polls until the vehicle responds", func() {
			transport.queue(
				reply(`{"status":200,"resultKey":"KEY"}`),
				reply(`{"status":200,"responseFlag":"0"}`),
				reply(`{"status":200,"responseFlag":"0"}`),
				reply(`{"status":200,"responseFlag":"1","operationResult":"START"}`),
			)
			_, err := d.Send(ctx, protocol.OpClimateOn, nil)
			Expect(err).NotTo(HaveOccurred())

			rsp, err := d.Wait(ctx, protocol.OpClimateOnResult)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.String("operationResult")).To(Equal("START"))
			Expect(transport.calls()).To(Equal(4))
			Expect(transport.request(1).URL).To(Equal(climateResPath))
			Expect(transport.form(1).Get("resultKey")).To(Equal("KEY"))
			Expect(fake.Sleeps()).To(Equal([]time.Duration{time.Second, time.Second}))

			_, ok := d.Pending()
			Expect(ok).To(BeFalse())
		})

		It("times out after the ceiling and keeps the result key", func() {
			d.SetMaxWait(5 * time.Second)
			transport.queue(reply(`{"status":200,"resultKey":"KEY"}`))
			for i := 0; i < 7; i++ {
				transport.queue(reply(`{"status":200,"responseFlag":false}`))
			}
			_, err := d.Send(ctx, protocol.OpClimateOn, nil)
			Expect(err).NotTo(HaveOccurred())

			_, err = d.Wait(ctx, protocol.OpClimateOnResult)
			Expect(errors.Is(err, protocol.ErrTimeout)).To(BeTrue())
			Expect(protocol.MayHaveSucceeded(err)).To(BeTrue())
			Expect(transport.calls()).To(Equal(1 + 7))
			Expect(clock.Since(fake, start)).To(BeNumerically(">", 5*time.Second))

			key, ok := d.Pending()
			Expect(ok).To(BeTrue())
			Expect(key).To(Equal("KEY"))
		})

		It("stops when the context is cancelled", func() {
			transport.queue(reply(`{"status":200,"resultKey":"KEY"}`), reply(`{"status":200,"responseFlag":"0"}`))
			_, err := d.Send(ctx, protocol.OpClimateOn, nil)
			Expect(err).NotTo(HaveOccurred())

			cancelable, cancel := context.WithCancel(ctx)
			fake.OnSleep = func(time.Time) { cancel() }
			_, err = d.Wait(cancelable, protocol.OpClimateOnResult)
			Expect(err).To(MatchError(context.Canceled))
			Expect(transport.calls()).To(Equal(2))
		})
	})

	Describe("JSON generations", func() {
		BeforeEach(func() {
			config = mustConfig(protocol.NissanConnectNA, protocol.RegionUS)
			auth := authentication.NewAuthenticator(config, testUser, "hunter2", authentication.Blowfish{})
			d = New(config, transport, auth, store, cache.KeyFor(testUser))
			d.SetClock(fake)
		})

		naLogin := func() scriptedReply {
			header := http.Header{}
			header.Add("Set-Cookie", "JSESSIONID=NEWCOOKIE; Path=/")
			return scriptedReply{header: header, body: `{"authToken":"NEWTOKEN","accountID":"ACC","vehicles":[{"uvi":"VINNA"}]}`}
		}

		It("sends JSON bodies with bearer token and cookie", func() {
			seed(cache.Record{VIN: "VINNA", AuthToken: "TOKEN", AccountID: "ACC", Cookie: "COOKIE"})
			Expect(d.Prepare(ctx)).To(Succeed())

			transport.queue(reply(`{"resultKey":"K"}`))
			_, err := d.Send(ctx, protocol.OpLockDoors, map[string]string{"pin": "1234"})
			Expect(err).NotTo(HaveOccurred())

			req := transport.request(0)
			Expect(req.URL).To(HaveSuffix("remote/vehicles/VINNA/accounts/ACC/rdl/createRDL"))
			Expect(req.Header.Get("Authorization")).To(Equal("Bearer TOKEN"))
			Expect(req.Header.Get("Cookie")).To(Equal("JSESSIONID=COOKIE"))
			Expect(req.Header.Get("Content-Type")).To(Equal("application/json"))

			var body map[string]string
			Expect(json.Unmarshal(req.Body, &body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("pin", "1234"))
			Expect(body).To(HaveKeyWithValue("vin", "VINNA"))
			Expect(body).To(HaveKeyWithValue("regionCode", "NNA"))
		})

		It("uses query parameters for GET requests", func() {
			seed(cache.Record{VIN: "VINNA", AuthToken: "TOKEN", AccountID: "ACC", Cookie: "COOKIE"})
			Expect(d.Prepare(ctx)).To(Succeed())
			transport.queue(reply(`{}`))
			_, err := d.Send(ctx, protocol.OpBatteryRecords, nil)
			Expect(err).NotTo(HaveOccurred())
			req := transport.request(0)
			Expect(req.Method).To(Equal(http.MethodGet))
			Expect(req.Body).To(BeNil())
			Expect(strings.Contains(req.URL, "battery/vehicles/VINNA/records?")).To(BeTrue())
			Expect(transport.form(0).Get("tz")).To(Equal("America/Los_Angeles"))
		})

		It("treats the HTTP status as authoritative", func() {
			seed(cache.Record{VIN: "VINNA", AuthToken: "TOKEN", AccountID: "ACC", Cookie: "COOKIE"})
			Expect(d.Prepare(ctx)).To(Succeed())
			transport.queue(scriptedReply{status: http.StatusUnauthorized, body: "expired"}, naLogin(), reply(`{"ok":true}`))

			rsp, err := d.Send(ctx, protocol.OpChargeStart, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.Get("ok").Bool()).To(BeTrue())
			Expect(transport.request(2).Header.Get("Authorization")).To(Equal("Bearer NEWTOKEN"))
			Expect(transport.request(2).Header.Get("Cookie")).To(Equal("JSESSIONID=NEWCOOKIE"))
		})

		It("logs in again when the cached token has expired", func() {
			token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(start.Add(-time.Hour)),
			}).SignedString([]byte("secret"))
			Expect(err).NotTo(HaveOccurred())
			seed(cache.Record{VIN: "VINNA", AuthToken: token, AccountID: "ACC", Cookie: "COOKIE"})

			transport.queue(naLogin())
			Expect(d.Prepare(ctx)).To(Succeed())
			Expect(transport.calls()).To(Equal(1))
			Expect(d.Session().AuthToken).To(Equal("NEWTOKEN"))
		})
	})
})
