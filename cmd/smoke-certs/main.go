// Command smoke-certs runs the certificate pipeline end to end in-process:
// seed a club and roster, attach a PNG template, generate, then check the
// report, a fingerprint lookup and mentor verification.
package main

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log"
	"time"

	"certhub.org/internal/auth"
	"certhub.org/internal/certs"
	"certhub.org/internal/stream"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := certs.NewInMemory()
	svc := certs.NewService(store, certs.WithIssuanceStream(stream.New()))

	mustCreateUser(ctx, store, &certs.User{
		ID: "mentor1", Username: "drkumar", Email: "drkumar@git.edu",
		FullName: "Dr. A Kumar", Role: auth.RoleMentor,
	})
	mustCreateUser(ctx, store, &certs.User{
		ID: "admin1", Username: "robotics_admin", Email: "robotics@git.edu",
		Role: auth.RoleClub,
	})
	mustCreateUser(ctx, store, &certs.User{
		ID: "stu1", Username: "asha", Email: "asha@students.git.edu",
		FullName: "Asha Rao", USN: "1AB21CS001", Role: auth.RoleStudent, MentorID: "mentor1",
	})
	// No full name and no USN: generation must fall back to the username
	// and the N/A placeholder.
	mustCreateUser(ctx, store, &certs.User{
		ID: "stu2", Username: "vikram", Email: "vikram@students.git.edu",
		Role: auth.RoleStudent, MentorID: "mentor1",
	})
	if err := store.CreateClub(ctx, &certs.Club{ID: "club1", Name: "Robotics Club", AdminID: "admin1"}); err != nil {
		log.Fatalf("create club: %v", err)
	}

	event, err := svc.CreateEvent(ctx, certs.EventInput{
		Name:        "Robo Sumo Smoke",
		Date:        time.Now().Add(24 * time.Hour),
		AictePoints: 10,
	}, "admin1")
	if err != nil {
		log.Fatalf("create event: %v", err)
	}

	for _, studentID := range []string{"stu1", "stu2"} {
		if _, err := svc.Register(ctx, event.ID, studentID); err != nil {
			log.Fatalf("register %s: %v", studentID, err)
		}
	}

	if _, err := svc.UploadTemplate(ctx, event.ID, "admin1", blankTemplate(), "png"); err != nil {
		log.Fatalf("upload template: %v", err)
	}

	report, err := svc.Generate(ctx, event.ID, "admin1")
	if err != nil {
		log.Fatalf("generate: %v", err)
	}
	if report.SuccessCount != 2 || report.FailureCount != 0 {
		log.Fatalf("unexpected report: %+v", report)
	}
	if report.Status != string(certs.StatusFinished) {
		log.Fatalf("event not finished: %s", report.Status)
	}

	student, err := store.FindUser(ctx, "stu1")
	if err != nil {
		log.Fatalf("load student: %v", err)
	}
	mine, err := svc.ListFor(ctx, student)
	if err != nil {
		log.Fatalf("list certificates: %v", err)
	}
	if len(mine) != 1 {
		log.Fatalf("expected one certificate for stu1, got %d", len(mine))
	}

	result, err := svc.Lookup(ctx, mine[0].Fingerprint)
	if err != nil {
		log.Fatalf("lookup: %v", err)
	}
	if !result.Found || result.Holder != "1AB21CS001" {
		log.Fatalf("unexpected lookup result: %+v", result)
	}

	verified, err := svc.Verify(ctx, mine[0].ID, "mentor1")
	if err != nil {
		log.Fatalf("verify: %v", err)
	}
	if !verified.Verified {
		log.Fatal("certificate not marked verified")
	}

	fmt.Printf("certhub smoke test passed: event=%s certificates=%d\n", event.ID, report.SuccessCount)
}

func mustCreateUser(ctx context.Context, store certs.Store, u *certs.User) {
	if err := store.CreateUser(ctx, u); err != nil {
		log.Fatalf("create user %s: %v", u.Username, err)
	}
}

func blankTemplate() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 800, 560))
	for y := 0; y < 560; y++ {
		for x := 0; x < 800; x++ {
			img.Set(x, y, color.White)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		log.Fatalf("encode template: %v", err)
	}
	return buf.Bytes()
}
