package vehicle

import (
	"context"
	"errors"
	"net/url"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/openev/carwings/internal/authentication"
	"github.com/openev/carwings/internal/clock"
	"github.com/openev/carwings/internal/dispatcher"
	"github.com/openev/carwings/mocks"
	"github.com/openev/carwings/pkg/cache"
	"github.com/openev/carwings/pkg/connector"
	"github.com/openev/carwings/pkg/protocol"
)

const testUser = "driver@example.com"

const batteryRecords = `{"status":200,"BatteryStatusRecords":{
	"OperationResult":"START",
	"NotificationDateAndTime":"2024/03/01 08:01",
	"PluginState":"CONNECTED",
	"BatteryStatus":{"BatteryChargingStatus":"NORMAL_CHARGING","BatteryCapacity":"240","BatteryRemainingAmount":"220","BatteryRemainingAmountWH":"","BatteryRemainingAmountkWH":""},
	"TimeRequiredToFull":{"HourRequiredToFull":"3","MinutesRequiredToFull":"20"},
	"TimeRequiredToFull200":{"HourRequiredToFull":"0","MinutesRequiredToFull":"0"},
	"TimeRequiredToFull200_6kW":{"HourRequiredToFull":"0","MinutesRequiredToFull":"45"},
	"CruisingRangeAcOn":"107136.0",
	"CruisingRangeAcOff":"115032.0"}}`

const staleBatteryRecords = `{"status":200,"BatteryStatusRecords":{
	"OperationResult":"START",
	"NotificationDateAndTime":"2024/02/28 19:00",
	"PluginState":"NOT_CONNECTED",
	"BatteryStatus":{"BatteryChargingStatus":"NOT_CHARGING","BatteryCapacity":"240"}}}`

const climateRecords = `{"status":200,"RemoteACRecords":{
	"OperationResult":"START_BATTERY",
	"RemoteACOperation":"START",
	"ACStartStopDateAndTime":"2024/03/01 07:55",
	"ACStartStopURL":"",
	"PluginState":"NOT_CONNECTED",
	"ACDurationBatterySec":"900",
	"ACDurationPluggedSec":"7200"}}`

var start = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

var _ = Describe("Vehicle", func() {
	var (
		ctrl      *gomock.Controller
		transport *mocks.Transport
		fake      *clock.Fake
		d         *dispatcher.Dispatcher
		car       *Vehicle
		ctx       context.Context
	)

	build := func(gen protocol.Generation, session cache.Record) {
		config, err := protocol.NewConfig(gen, protocol.RegionUS, "America/New_York")
		Expect(err).NotTo(HaveOccurred())
		store := cache.NewMemoryStore(0)
		Expect(store.Save(ctx, cache.KeyFor(testUser), session)).To(Succeed())
		auth := authentication.NewAuthenticator(config, testUser, "pw", authentication.Blowfish{})
		d = dispatcher.New(config, transport, auth, store, cache.KeyFor(testUser))
		d.SetClock(fake)
		car = NewVehicle(d)
	}

	expect := func(path string, body string) *gomock.Call {
		return transport.EXPECT().Send(gomock.Any(), requestTo(path)).Return(jsonReply(body), nil)
	}

	BeforeEach(func() {
		ctx = context.Background()
		ctrl = gomock.NewController(GinkgoT())
		transport = mocks.NewTransport(ctrl)
		fake = clock.NewFake(start)
		build(protocol.Carwings2018, cache.Record{VIN: "VIN1", CustomSessionID: "SESSION"})
	})

	Describe("climate control", func() {
		It("waits for the vehicle to confirm", func() {
			gomock.InOrder(
				expect("ACRemoteRequest.php", `{"status":200,"resultKey":"RK"}`),
				expect("ACRemoteResult.php", `{"status":200,"responseFlag":"0"}`),
				expect("ACRemoteResult.php", `{"status":200,"responseFlag":"0"}`),
				expect("ACRemoteResult.php", `{"status":200,"responseFlag":"1","operationResult":"START_BATTERY","hvacStatus":"ON"}`),
			)
			rsp, err := car.StartClimateControl(ctx, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.String("hvacStatus")).To(Equal("ON"))
			_, pending := d.Pending()
			Expect(pending).To(BeFalse())
			Expect(fake.Sleeps()).To(HaveLen(2))
		})

		It("returns the acknowledgement without waiting", func() {
			expect("ACRemoteOffRequest.php", `{"status":200,"resultKey":"RK2"}`)
			rsp, err := car.StopClimateControl(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.String("resultKey")).To(Equal("RK2"))
			key, pending := d.Pending()
			Expect(pending).To(BeTrue())
			Expect(key).To(Equal("RK2"))
		})

		It("recovers from an expired session", func() {
			gomock.InOrder(
				expect("ACRemoteRequest.php", `{"status":401}`),
				expect("UserLoginRequest.php", `{"status":200,"VehicleInfoList":{"vehicleInfo":[{"vin":"VIN1","custom_sessionid":"NEW"}]}}`),
				transport.EXPECT().Send(gomock.Any(), requestTo("ACRemoteRequest.php")).DoAndReturn(
					func(_ context.Context, req *connector.Request) (*connector.Reply, error) {
						form, err := url.ParseQuery(string(req.Body))
						Expect(err).NotTo(HaveOccurred())
						Expect(form.Get("custom_sessionid")).To(Equal("NEW"))
						return jsonReply(`{"status":200}`), nil
					}),
			)
			_, err := car.StartClimateControl(ctx, false)
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Budget().Available()).To(BeFalse())
		})
	})

	Describe("charging", func() {
		It("starts charging", func() {
			expect("BatteryRemoteChargingRequest.php", `{"status":200}`)
			_, err := car.StartCharging(ctx)
			Expect(err).NotTo(HaveOccurred())
		})

		It("reports generations that cannot stop charging", func() {
			_, err := car.StopCharging(ctx)
			Expect(errors.Is(err, protocol.ErrUnsupported)).To(BeTrue())
		})
	})

	Describe("Status", func() {
		It("refreshes, waits and maps fresh data", func() {
			gomock.InOrder(
				expect("BatteryStatusCheckRequest.php", `{"status":200,"resultKey":"SK"}`),
				expect("BatteryStatusCheckResultRequest.php", `{"status":200,"responseFlag":"1"}`),
				expect("BatteryStatusRecordsRequest.php", batteryRecords),
				expect("RemoteACRecordsRequest.php", climateRecords),
			)
			status, err := car.Status(ctx, StatusFresh)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Fresh).To(BeTrue())
			Expect(status.LastUpdated).To(Equal(time.Date(2024, 3, 1, 8, 1, 0, 0, time.UTC)))
			Expect(status.PluggedIn).To(BeTrue())
			Expect(status.Charging).To(BeTrue())
			Expect(status.BatteryCapacity).To(Equal(240))
			Expect(*status.BatteryRemainingAmount).To(Equal(220))
			Expect(status.BatteryRemainingAmountWH).To(BeNil())
			Expect(status.TimeToFull.Formatted()).To(Equal("3h 20m"))
			Expect(status.TimeToFull200).To(BeNil())
			Expect(status.TimeToFull200_6kW.Formatted()).To(Equal("45m"))
			Expect(status.CruisingRangeUnit).To(Equal(UnitMiles))
			Expect(status.CruisingRangeAcOn).To(BeNumerically("~", 66.5712, 0.001))
			Expect(status.CruisingRangeAcOff).To(BeNumerically("~", 71.4776, 0.001))
			Expect(status.RemoteACRunning).To(BeTrue())
			Expect(status.ACDurationBatterySec).To(Equal(900))
			Expect(status.ACStartStopURL).To(BeEmpty())
		})

		It("polls until the records catch up with the refresh", func() {
			car.SetFreshnessLimits(2*time.Minute, 10*time.Second, time.Minute)
			gomock.InOrder(
				expect("BatteryStatusCheckRequest.php", `{"status":200,"resultKey":"SK"}`),
				expect("BatteryStatusCheckResultRequest.php", `{"status":200,"responseFlag":"1"}`),
				expect("BatteryStatusRecordsRequest.php", staleBatteryRecords),
				expect("BatteryStatusRecordsRequest.php", batteryRecords),
				expect("RemoteACRecordsRequest.php", climateRecords),
			)
			status, err := car.Status(ctx, StatusFresh)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Fresh).To(BeTrue())
			Expect(fake.Sleeps()).To(Equal([]time.Duration{10 * time.Second}))
		})

		It("reports stale data instead of failing", func() {
			car.SetFreshnessLimits(0, 30*time.Second, time.Minute)
			gomock.InOrder(
				expect("BatteryStatusCheckRequest.php", `{"status":200,"resultKey":"SK"}`),
				expect("BatteryStatusCheckResultRequest.php", `{"status":200,"responseFlag":"1"}`),
				expect("BatteryStatusRecordsRequest.php", staleBatteryRecords).Times(3),
				expect("RemoteACRecordsRequest.php", climateRecords),
			)
			status, err := car.Status(ctx, StatusFresh)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Fresh).To(BeFalse())
			Expect(status.PluggedIn).To(BeFalse())
			Expect(status.TimeToFull).To(BeNil())
		})

		It("only triggers a refresh in async mode", func() {
			expect("BatteryStatusCheckRequest.php", `{"status":200,"resultKey":"SK"}`)
			status, err := car.Status(ctx, StatusAsync)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(BeNil())
		})

		It("reads stored records in cached mode", func() {
			gomock.InOrder(
				expect("BatteryStatusRecordsRequest.php", batteryRecords),
				expect("RemoteACRecordsRequest.php", climateRecords),
			)
			status, err := car.Status(ctx, StatusCached)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.Fresh).To(BeFalse())
			Expect(status.BatteryCapacity).To(Equal(240))
		})

		DescribeTable("rejects records with an unexpected operation result",
			func(body string) {
				expect("BatteryStatusRecordsRequest.php", body)
				_, err := car.Status(ctx, StatusCached)
				Expect(errors.Is(err, protocol.ErrInvalidResponse)).To(BeTrue())
			},
			Entry("missing records", `{"status":200}`),
			Entry("missing result", `{"status":200,"BatteryStatusRecords":{}}`),
			Entry("unknown result", `{"status":200,"BatteryStatusRecords":{"OperationResult":"ELECTRIC_WAVE_ABNORMAL"}}`),
		)

		It("converts ranges to kilometres outside the US", func() {
			config, err := protocol.NewConfig(protocol.Carwings2018, protocol.RegionEurope, "Europe/London")
			Expect(err).NotTo(HaveOccurred())
			car.config = config
			gomock.InOrder(
				expect("BatteryStatusRecordsRequest.php", batteryRecords),
				expect("RemoteACRecordsRequest.php", climateRecords),
			)
			status, err := car.Status(ctx, StatusCached)
			Expect(err).NotTo(HaveOccurred())
			Expect(status.CruisingRangeUnit).To(Equal(UnitKm))
			Expect(status.CruisingRangeAcOn).To(BeNumerically("~", 107.136, 0.0001))
		})
	})

	Describe("Location", func() {
		It("waits for the vehicle's position", func() {
			gomock.InOrder(
				expect("MyCarFinderRequest.php", `{"status":200,"resultKey":"LK"}`),
				expect("MyCarFinderResultRequest.php", `{"status":200,"responseFlag":"1","lat":"45.5017","lng":"-73.5673","receivedDate":"2024/03/01 07:59"}`),
			)
			loc, err := car.Location(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(loc.Latitude).To(BeNumerically("~", 45.5017, 1e-9))
			Expect(loc.Longitude).To(BeNumerically("~", -73.5673, 1e-9))
			Expect(loc.Recorded).To(Equal(time.Date(2024, 3, 1, 7, 59, 0, 0, time.UTC)))
		})

		It("fails when coordinates are missing", func() {
			gomock.InOrder(
				expect("MyCarFinderRequest.php", `{"status":200,"resultKey":"LK"}`),
				expect("MyCarFinderResultRequest.php", `{"status":200,"responseFlag":"1"}`),
			)
			_, err := car.Location(ctx)
			Expect(errors.Is(err, protocol.ErrInvalidResponse)).To(BeTrue())
		})
	})

	Describe("DrivingHistory", func() {
		It("requests the given day in the configured timezone", func() {
			transport.EXPECT().Send(gomock.Any(), requestTo("DriveAnalysisDetailRequest.php")).DoAndReturn(
				func(_ context.Context, req *connector.Request) (*connector.Reply, error) {
					form, err := url.ParseQuery(string(req.Body))
					Expect(err).NotTo(HaveOccurred())
					Expect(form.Get("DetailTargetDate")).To(Equal("2024-02-29"))
					return jsonReply(`{"status":200,"DriveAnalysisDetailResponsePersonalData":{}}`), nil
				})
			// 03:00 UTC on March 1st is still February 29th in New York.
			_, err := car.DrivingHistory(ctx, time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC))
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("LockDoors", func() {
		DescribeTable("validates the PIN",
			func(pin string) {
				_, err := car.LockDoors(ctx, pin)
				Expect(err).To(MatchError(ErrInvalidPIN))
			},
			Entry("empty", ""),
			Entry("short", "123"),
			Entry("long", "12345"),
			Entry("letters", "12a4"),
		)

		It("is unsupported by form-encoded generations", func() {
			_, err := car.LockDoors(ctx, "1234")
			Expect(errors.Is(err, protocol.ErrUnsupported)).To(BeTrue())
		})

		It("locks and waits on JSON generations", func() {
			build(protocol.NissanConnectNA, cache.Record{VIN: "VINNA", AuthToken: "T", AccountID: "A", Cookie: "C"})
			gomock.InOrder(
				expect("remote/vehicles/VINNA/accounts/A/rdl/createRDL", `{"resultKey":"DK"}`),
				expect("remote/vehicles/VINNA/accounts/A/rdl/result", `{"responseFlag":true,"status":"SUCCESS"}`),
			)
			rsp, err := car.LockDoors(ctx, "1234")
			Expect(err).NotTo(HaveOccurred())
			Expect(rsp.String("status")).To(Equal("SUCCESS"))
		})
	})

	It("connects using the stored session", func() {
		Expect(car.Connect(ctx)).To(Succeed())
		Expect(car.VIN()).To(Equal("VIN1"))
	})

	It("reports the configured timezone", func() {
		Expect(car.TimeZone().String()).To(Equal("America/New_York"))
	})
})
